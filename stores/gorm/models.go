//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	oa "github.com/panyam/authpwn"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	ExUID     string `gorm:"column:exuid;uniqueIndex;size:32;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *oa.User {
	return &oa.User{
		ID:        m.ID,
		ExUID:     m.ExUID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func UserToModel(u *oa.User) *UserModel {
	return &UserModel{
		ID:        u.ID,
		ExUID:     u.ExUID,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// CredentialModel is the GORM model for credentials. UniqueKey and SlotKey
// are NULL when the kind does not constrain them, so unique indexes skip
// those rows.
type CredentialModel struct {
	ID        string  `gorm:"primaryKey;size:64"`
	UserID    string  `gorm:"size:64;index;not null"`
	Kind      string  `gorm:"size:32;index:idx_credentials_kind_name;not null"`
	Name      string  `gorm:"size:320;index:idx_credentials_kind_name"`
	Key       string  `gorm:"column:key;size:2048"`
	Verified  bool    `gorm:"default:false"`
	UniqueKey *string `gorm:"uniqueIndex;size:420"`
	SlotKey   *string `gorm:"uniqueIndex;size:100"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CredentialModel) TableName() string {
	return "credentials"
}

func (m *CredentialModel) ToCredential() *oa.Credential {
	return &oa.Credential{
		ID:        m.ID,
		UserID:    m.UserID,
		Kind:      oa.Kind(m.Kind),
		Name:      m.Name,
		Key:       m.Key,
		Verified:  m.Verified,
		UniqueKey: fromNullable(m.UniqueKey),
		SlotKey:   fromNullable(m.SlotKey),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func CredentialToModel(c *oa.Credential) *CredentialModel {
	return &CredentialModel{
		ID:        c.ID,
		UserID:    c.UserID,
		Kind:      string(c.Kind),
		Name:      c.Name,
		Key:       c.Key,
		Verified:  c.Verified,
		UniqueKey: nullable(c.UniqueKey),
		SlotKey:   nullable(c.SlotKey),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// TokenModel is the GORM model for one-time tokens
type TokenModel struct {
	ID        string     `gorm:"primaryKey;size:64"`
	Purpose   string     `gorm:"size:32;uniqueIndex:idx_tokens_purpose_code;not null"`
	Code      string     `gorm:"size:128;uniqueIndex:idx_tokens_purpose_code;not null"`
	UserID    string     `gorm:"size:64;index"`
	Fact      string     `gorm:"size:320"`
	CreatedAt time.Time
	ExpiresAt time.Time  `gorm:"index"`
	SpentAt   *time.Time
}

func (TokenModel) TableName() string {
	return "tokens"
}

func (m *TokenModel) ToToken() *oa.Token {
	return &oa.Token{
		ID:        m.ID,
		Purpose:   oa.Purpose(m.Purpose),
		Code:      m.Code,
		UserID:    m.UserID,
		Fact:      m.Fact,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
		SpentAt:   m.SpentAt,
	}
}

func TokenToModel(t *oa.Token) *TokenModel {
	return &TokenModel{
		ID:        t.ID,
		Purpose:   string(t.Purpose),
		Code:      t.Code,
		UserID:    t.UserID,
		Fact:      t.Fact,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
		SpentAt:   t.SpentAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fromNullable(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
