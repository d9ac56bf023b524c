//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	oa "github.com/panyam/authpwn"
)

// UserEntity is the Datastore entity for users. CredentialIDs lists the
// user's credentials so they can be read inside a transaction without a
// query.
type UserEntity struct {
	Key           *datastore.Key `datastore:"__key__"`
	ExUID         string         `datastore:"exuid"`
	CredentialIDs []string       `datastore:"credential_ids,noindex"`
	CreatedAt     time.Time      `datastore:"created_at"`
	UpdatedAt     time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *oa.User {
	return &oa.User{
		ID:        e.Key.Name,
		ExUID:     e.ExUID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// CredentialEntity is the Datastore entity for credentials
type CredentialEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	Kind      string         `datastore:"kind"`
	Name      string         `datastore:"name"`
	Secret    string         `datastore:"secret,noindex"`
	Verified  bool           `datastore:"verified"`
	UniqueKey string         `datastore:"unique_key,noindex"`
	SlotKey   string         `datastore:"slot_key,noindex"`
	CreatedAt time.Time      `datastore:"created_at"`
	UpdatedAt time.Time      `datastore:"updated_at"`
}

func (e *CredentialEntity) ToCredential() *oa.Credential {
	return &oa.Credential{
		ID:        e.Key.Name,
		UserID:    e.UserID,
		Kind:      oa.Kind(e.Kind),
		Name:      e.Name,
		Key:       e.Secret,
		Verified:  e.Verified,
		UniqueKey: e.UniqueKey,
		SlotKey:   e.SlotKey,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func CredentialToEntity(c *oa.Credential, key *datastore.Key) *CredentialEntity {
	return &CredentialEntity{
		Key:       key,
		UserID:    c.UserID,
		Kind:      string(c.Kind),
		Name:      c.Name,
		Secret:    c.Key,
		Verified:  c.Verified,
		UniqueKey: c.UniqueKey,
		SlotKey:   c.SlotKey,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// IndexEntity claims a unique value for one record
// Key format: the unique value itself
type IndexEntity struct {
	Key *datastore.Key `datastore:"__key__"`
	ID  string         `datastore:"id"`
}

// NameIndexEntity lists the credentials sharing a (kind, name)
// Key format: Kind + ":" + Name
type NameIndexEntity struct {
	Key *datastore.Key `datastore:"__key__"`
	IDs []string       `datastore:"ids,noindex"`
}

// TokenEntity is the Datastore entity for one-time tokens
// Key format: Purpose + ":" + Code
type TokenEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	ID        string         `datastore:"id"`
	Purpose   string         `datastore:"purpose"`
	Code      string         `datastore:"code,noindex"`
	UserID    string         `datastore:"user_id"`
	Fact      string         `datastore:"fact,noindex"`
	CreatedAt time.Time      `datastore:"created_at"`
	ExpiresAt time.Time      `datastore:"expires_at"`
	Spent     bool           `datastore:"spent"`
	SpentAt   time.Time      `datastore:"spent_at,noindex"`
}

func (e *TokenEntity) ToToken() *oa.Token {
	t := &oa.Token{
		ID:        e.ID,
		Purpose:   oa.Purpose(e.Purpose),
		Code:      e.Code,
		UserID:    e.UserID,
		Fact:      e.Fact,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
	if e.Spent {
		spentAt := e.SpentAt
		t.SpentAt = &spentAt
	}
	return t
}

func TokenToEntity(t *oa.Token, key *datastore.Key) *TokenEntity {
	e := &TokenEntity{
		Key:       key,
		ID:        t.ID,
		Purpose:   string(t.Purpose),
		Code:      t.Code,
		UserID:    t.UserID,
		Fact:      t.Fact,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
	if t.SpentAt != nil {
		e.Spent = true
		e.SpentAt = *t.SpentAt
	}
	return e
}
