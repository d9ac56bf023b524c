//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"slices"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	oa "github.com/panyam/authpwn"
)

// Kind constants for Datastore entities
const (
	KindUser           = "User"
	KindExUID          = "ExUID"
	KindCredential     = "Credential"
	KindUniqueKey      = "CredentialUniqueKey"
	KindSlotKey        = "CredentialSlotKey"
	KindCredentialName = "CredentialName"
	KindToken          = "Token"
)

// maxBatch is the Datastore limit on keys per multi-operation
const maxBatch = 500

// Store implements oa.Store using Google Cloud Datastore
type Store struct {
	client    *datastore.Client
	namespace string
	tx        *txState
}

var _ oa.Store = (*Store)(nil)

// txState tracks entities written in the current transaction. Datastore
// transactions read from a snapshot, so later reads in the same transaction
// are served from pending instead.
type txState struct {
	tx      *datastore.Transaction
	pending map[string]any // nil value marks a deletion
}

// NewStore creates a new Datastore-backed Store
func NewStore(client *datastore.Client, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

func (s *Store) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

// run executes fn in a Datastore transaction, joining the current one if any
func (s *Store) run(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	_, err := s.client.RunInTransaction(ctx, func(dtx *datastore.Transaction) error {
		return fn(&Store{
			client:    s.client,
			namespace: s.namespace,
			tx:        &txState{tx: dtx, pending: map[string]any{}},
		})
	})
	return err
}

func (s *Store) Transaction(ctx context.Context, fn func(tx oa.Store) error) error {
	return s.run(ctx, func(tx *Store) error {
		return fn(tx)
	})
}

// get loads an entity, returning nil if it does not exist
func get[T any](ctx context.Context, s *Store, key *datastore.Key) (*T, error) {
	var entity T
	var err error
	if s.tx != nil {
		if v, ok := s.tx.pending[key.String()]; ok {
			if v == nil {
				return nil, nil
			}
			entity = *(v.(*T))
			return &entity, nil
		}
		err = s.tx.tx.Get(key, &entity)
	} else {
		err = s.client.Get(ctx, key, &entity)
	}
	if err == datastore.ErrNoSuchEntity {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func put[T any](ctx context.Context, s *Store, key *datastore.Key, entity *T) error {
	if s.tx != nil {
		if _, err := s.tx.tx.Put(key, entity); err != nil {
			return err
		}
		s.tx.pending[key.String()] = entity
		return nil
	}
	_, err := s.client.Put(ctx, key, entity)
	return err
}

func (s *Store) del(ctx context.Context, key *datastore.Key) error {
	if s.tx != nil {
		if err := s.tx.tx.Delete(key); err != nil {
			return err
		}
		s.tx.pending[key.String()] = nil
		return nil
	}
	return s.client.Delete(ctx, key)
}

// claim checks that a unique value is free or already owned by id
func (s *Store) claim(ctx context.Context, kind, value, id string) error {
	if value == "" {
		return nil
	}
	entity, err := get[IndexEntity](ctx, s, s.namespacedKey(kind, value))
	if err != nil {
		return err
	}
	if entity != nil && entity.ID != id {
		return oa.ErrUniquenessViolation
	}
	return nil
}

func (s *Store) setIndex(ctx context.Context, kind, value, id string) error {
	if value == "" {
		return nil
	}
	key := s.namespacedKey(kind, value)
	return put(ctx, s, key, &IndexEntity{Key: key, ID: id})
}

func (s *Store) clearIndex(ctx context.Context, kind, value string) error {
	if value == "" {
		return nil
	}
	return s.del(ctx, s.namespacedKey(kind, value))
}

// ============================================================================
// UserStore
// ============================================================================

func (s *Store) CreateUser(ctx context.Context, user *oa.User) error {
	return s.run(ctx, func(tx *Store) error {
		key := tx.namespacedKey(KindUser, user.ID)
		existing, err := get[UserEntity](ctx, tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return oa.ErrUniquenessViolation
		}
		if err := tx.claim(ctx, KindExUID, user.ExUID, user.ID); err != nil {
			return err
		}
		entity := &UserEntity{
			Key:       key,
			ExUID:     user.ExUID,
			CreatedAt: user.CreatedAt,
			UpdatedAt: user.UpdatedAt,
		}
		if err := put(ctx, tx, key, entity); err != nil {
			return err
		}
		return tx.setIndex(ctx, KindExUID, user.ExUID, user.ID)
	})
}

func (s *Store) getUser(ctx context.Context, userID string) (*UserEntity, error) {
	entity, err := get[UserEntity](ctx, s, s.namespacedKey(KindUser, userID))
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, oa.ErrNotFound
	}
	return entity, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*oa.User, error) {
	entity, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *Store) GetUserByExUID(ctx context.Context, exuid string) (*oa.User, error) {
	index, err := get[IndexEntity](ctx, s, s.namespacedKey(KindExUID, exuid))
	if err != nil {
		return nil, err
	}
	if index == nil {
		return nil, oa.ErrNotFound
	}
	return s.GetUserByID(ctx, index.ID)
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.run(ctx, func(tx *Store) error {
		user, err := tx.getUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, id := range user.CredentialIDs {
			if err := tx.deleteCredential(ctx, id); err != nil && !errors.Is(err, oa.ErrNotFound) {
				return err
			}
		}
		if err := tx.clearIndex(ctx, KindExUID, user.ExUID); err != nil {
			return err
		}
		return tx.del(ctx, user.Key)
	})
}

// ============================================================================
// CredentialStore
// ============================================================================

func nameKey(kind oa.Kind, name string) string {
	return string(kind) + ":" + name
}

func (s *Store) getCredential(ctx context.Context, id string) (*CredentialEntity, error) {
	entity, err := get[CredentialEntity](ctx, s, s.namespacedKey(KindCredential, id))
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, oa.ErrNotFound
	}
	return entity, nil
}

func (s *Store) addName(ctx context.Context, kind oa.Kind, name, id string) error {
	key := s.namespacedKey(KindCredentialName, nameKey(kind, name))
	entity, err := get[NameIndexEntity](ctx, s, key)
	if err != nil {
		return err
	}
	if entity == nil {
		entity = &NameIndexEntity{Key: key}
	}
	if slices.Contains(entity.IDs, id) {
		return nil
	}
	entity.IDs = append(slices.Clone(entity.IDs), id)
	return put(ctx, s, key, entity)
}

func (s *Store) removeName(ctx context.Context, kind oa.Kind, name, id string) error {
	key := s.namespacedKey(KindCredentialName, nameKey(kind, name))
	entity, err := get[NameIndexEntity](ctx, s, key)
	if err != nil || entity == nil {
		return err
	}
	entity.IDs = slices.DeleteFunc(slices.Clone(entity.IDs), func(v string) bool { return v == id })
	if len(entity.IDs) == 0 {
		return s.del(ctx, key)
	}
	return put(ctx, s, key, entity)
}

func (s *Store) index(ctx context.Context, e *CredentialEntity) error {
	if err := s.setIndex(ctx, KindUniqueKey, e.UniqueKey, e.Key.Name); err != nil {
		return err
	}
	if err := s.setIndex(ctx, KindSlotKey, e.SlotKey, e.Key.Name); err != nil {
		return err
	}
	return s.addName(ctx, oa.Kind(e.Kind), e.Name, e.Key.Name)
}

func (s *Store) unindex(ctx context.Context, e *CredentialEntity) error {
	if err := s.clearIndex(ctx, KindUniqueKey, e.UniqueKey); err != nil {
		return err
	}
	if err := s.clearIndex(ctx, KindSlotKey, e.SlotKey); err != nil {
		return err
	}
	return s.removeName(ctx, oa.Kind(e.Kind), e.Name, e.Key.Name)
}

func (s *Store) CreateCredential(ctx context.Context, credential *oa.Credential) error {
	return s.run(ctx, func(tx *Store) error {
		key := tx.namespacedKey(KindCredential, credential.ID)
		existing, err := get[CredentialEntity](ctx, tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return oa.ErrUniquenessViolation
		}
		if err := tx.claim(ctx, KindUniqueKey, credential.UniqueKey, credential.ID); err != nil {
			return err
		}
		if err := tx.claim(ctx, KindSlotKey, credential.SlotKey, credential.ID); err != nil {
			return err
		}

		user, err := tx.getUser(ctx, credential.UserID)
		if err != nil {
			return err
		}
		user.CredentialIDs = append(slices.Clone(user.CredentialIDs), credential.ID)
		if err := put(ctx, tx, user.Key, user); err != nil {
			return err
		}

		entity := CredentialToEntity(credential, key)
		if err := put(ctx, tx, key, entity); err != nil {
			return err
		}
		return tx.index(ctx, entity)
	})
}

func (s *Store) UpdateCredential(ctx context.Context, credential *oa.Credential) error {
	return s.run(ctx, func(tx *Store) error {
		old, err := tx.getCredential(ctx, credential.ID)
		if err != nil {
			return err
		}
		if old.UserID != credential.UserID {
			return errors.New("credential owner cannot change")
		}
		if err := tx.claim(ctx, KindUniqueKey, credential.UniqueKey, credential.ID); err != nil {
			return err
		}
		if err := tx.claim(ctx, KindSlotKey, credential.SlotKey, credential.ID); err != nil {
			return err
		}
		if err := tx.unindex(ctx, old); err != nil {
			return err
		}
		entity := CredentialToEntity(credential, old.Key)
		if err := put(ctx, tx, old.Key, entity); err != nil {
			return err
		}
		return tx.index(ctx, entity)
	})
}

func (s *Store) DeleteCredential(ctx context.Context, credentialID string) error {
	return s.run(ctx, func(tx *Store) error {
		return tx.deleteCredential(ctx, credentialID)
	})
}

func (s *Store) deleteCredential(ctx context.Context, id string) error {
	entity, err := s.getCredential(ctx, id)
	if err != nil {
		return err
	}
	if err := s.unindex(ctx, entity); err != nil {
		return err
	}
	if user, err := s.getUser(ctx, entity.UserID); err == nil {
		user.CredentialIDs = slices.DeleteFunc(slices.Clone(user.CredentialIDs), func(v string) bool { return v == id })
		if err := put(ctx, s, user.Key, user); err != nil {
			return err
		}
	} else if !errors.Is(err, oa.ErrNotFound) {
		return err
	}
	return s.del(ctx, entity.Key)
}

func (s *Store) GetCredentialByID(ctx context.Context, credentialID string) (*oa.Credential, error) {
	entity, err := s.getCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	return entity.ToCredential(), nil
}

func (s *Store) GetCredential(ctx context.Context, kind oa.Kind, name string) (*oa.Credential, error) {
	index, err := get[NameIndexEntity](ctx, s, s.namespacedKey(KindCredentialName, nameKey(kind, name)))
	if err != nil {
		return nil, err
	}
	if index == nil || len(index.IDs) == 0 {
		return nil, oa.ErrNotFound
	}
	entity, err := s.getCredential(ctx, index.IDs[0])
	if err != nil {
		return nil, err
	}
	return entity.ToCredential(), nil
}

func (s *Store) ListUserCredentials(ctx context.Context, userID string) ([]*oa.Credential, error) {
	creds := []*oa.Credential{}
	user, err := s.getUser(ctx, userID)
	if errors.Is(err, oa.ErrNotFound) {
		return creds, nil
	}
	if err != nil {
		return nil, err
	}
	for _, id := range user.CredentialIDs {
		entity, err := s.getCredential(ctx, id)
		if errors.Is(err, oa.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		creds = append(creds, entity.ToCredential())
	}
	return creds, nil
}

// ============================================================================
// TokenStore
// ============================================================================

func (s *Store) tokenKey(purpose oa.Purpose, code string) *datastore.Key {
	return s.namespacedKey(KindToken, string(purpose)+":"+code)
}

func (s *Store) CreateToken(ctx context.Context, token *oa.Token) error {
	return s.run(ctx, func(tx *Store) error {
		key := tx.tokenKey(token.Purpose, token.Code)
		existing, err := get[TokenEntity](ctx, tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return oa.ErrUniquenessViolation
		}
		return put(ctx, tx, key, TokenToEntity(token, key))
	})
}

func (s *Store) GetToken(ctx context.Context, purpose oa.Purpose, code string) (*oa.Token, error) {
	entity, err := get[TokenEntity](ctx, s, s.tokenKey(purpose, code))
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, oa.ErrNotFound
	}
	return entity.ToToken(), nil
}

// MarkTokenSpent reads and writes the token in one transaction; Datastore
// aborts the loser of two concurrent spends and the retry sees it spent.
func (s *Store) MarkTokenSpent(ctx context.Context, purpose oa.Purpose, code string, spentAt time.Time) error {
	return s.run(ctx, func(tx *Store) error {
		key := tx.tokenKey(purpose, code)
		entity, err := get[TokenEntity](ctx, tx, key)
		if err != nil {
			return err
		}
		if entity == nil {
			return oa.ErrNotFound
		}
		if entity.Spent {
			return oa.ErrTokenAlreadySpent
		}
		entity.Spent = true
		entity.SpentAt = spentAt
		return put(ctx, tx, key, entity)
	})
}

// DeleteExpiredTokens runs a keys-only query outside any transaction, since
// Datastore transactions only allow ancestor queries
func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	query := datastore.NewQuery(KindToken).
		FilterField("expires_at", "<=", before).
		KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var keys []*datastore.Key
	it := s.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, err
		}
		keys = append(keys, key)
	}

	for start := 0; start < len(keys); start += maxBatch {
		end := min(start+maxBatch, len(keys))
		if err := s.client.DeleteMulti(ctx, keys[start:end]); err != nil {
			return int64(start), err
		}
	}
	return int64(len(keys)), nil
}
