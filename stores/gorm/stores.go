//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	oa "github.com/panyam/authpwn"
)

// AutoMigrate runs database migrations for all authpwn tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&CredentialModel{},
		&TokenModel{},
	)
}

// Store implements oa.Store using GORM. Open the database with
// gorm.Config{TranslateError: true} so duplicate keys are reported uniformly.
type Store struct {
	db *gorm.DB
}

var _ oa.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Transaction runs fn in a database transaction. Inside another transaction
// it uses a savepoint.
func (s *Store) Transaction(ctx context.Context, fn func(tx oa.Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// insert creates a row under a savepoint so a constraint failure leaves an
// enclosing transaction usable
func (s *Store) insert(ctx context.Context, value any) error {
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(value).Error
	})
	return translateError(err)
}

// translateError maps driver errors onto the authpwn sentinels
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return oa.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return fmt.Errorf("%w: %v", oa.ErrUniquenessViolation, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}

// =============================================================================
// UserStore
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, user *oa.User) error {
	return s.insert(ctx, UserToModel(user))
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*oa.User, error) {
	var model UserModel
	if err := s.conn(ctx).First(&model, "id = ?", userID).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToUser(), nil
}

func (s *Store) GetUserByExUID(ctx context.Context, exuid string) (*oa.User, error) {
	var model UserModel
	if err := s.conn(ctx).First(&model, "exuid = ?", exuid).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToUser(), nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&CredentialModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", userID).Delete(&UserModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return oa.ErrNotFound
		}
		return nil
	})
}

// =============================================================================
// CredentialStore
// =============================================================================

func (s *Store) CreateCredential(ctx context.Context, credential *oa.Credential) error {
	return s.insert(ctx, CredentialToModel(credential))
}

func (s *Store) UpdateCredential(ctx context.Context, credential *oa.Credential) error {
	model := CredentialToModel(credential)
	var res *gorm.DB
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res = tx.Model(&CredentialModel{}).
			Where("id = ?", model.ID).
			Updates(map[string]any{
				"user_id":    model.UserID,
				"kind":       model.Kind,
				"name":       model.Name,
				"key":        model.Key,
				"verified":   model.Verified,
				"unique_key": model.UniqueKey,
				"slot_key":   model.SlotKey,
				"updated_at": model.UpdatedAt,
			})
		return res.Error
	})
	if err != nil {
		return translateError(err)
	}
	if res.RowsAffected == 0 {
		return oa.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, credentialID string) error {
	res := s.conn(ctx).Where("id = ?", credentialID).Delete(&CredentialModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return oa.ErrNotFound
	}
	return nil
}

func (s *Store) GetCredentialByID(ctx context.Context, credentialID string) (*oa.Credential, error) {
	var model CredentialModel
	if err := s.conn(ctx).Where("id = ?", credentialID).First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToCredential(), nil
}

func (s *Store) GetCredential(ctx context.Context, kind oa.Kind, name string) (*oa.Credential, error) {
	var model CredentialModel
	err := s.conn(ctx).
		Where("kind = ? AND name = ?", string(kind), name).
		Order("created_at, id").
		First(&model).Error
	if err != nil {
		return nil, translateError(err)
	}
	return model.ToCredential(), nil
}

func (s *Store) ListUserCredentials(ctx context.Context, userID string) ([]*oa.Credential, error) {
	var models []CredentialModel
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&models).Error; err != nil {
		return nil, err
	}
	creds := make([]*oa.Credential, len(models))
	for i := range models {
		creds[i] = models[i].ToCredential()
	}
	return creds, nil
}

// =============================================================================
// TokenStore
// =============================================================================

func (s *Store) CreateToken(ctx context.Context, token *oa.Token) error {
	return s.insert(ctx, TokenToModel(token))
}

func (s *Store) GetToken(ctx context.Context, purpose oa.Purpose, code string) (*oa.Token, error) {
	var model TokenModel
	if err := s.conn(ctx).First(&model, "purpose = ? AND code = ?", string(purpose), code).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToToken(), nil
}

// MarkTokenSpent is a conditional update; the database row lock decides
// which of two concurrent spends matches spent_at IS NULL.
func (s *Store) MarkTokenSpent(ctx context.Context, purpose oa.Purpose, code string, spentAt time.Time) error {
	db := s.conn(ctx)
	res := db.Model(&TokenModel{}).
		Where("purpose = ? AND code = ? AND spent_at IS NULL", string(purpose), code).
		Update("spent_at", spentAt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&TokenModel{}).Where("purpose = ? AND code = ?", string(purpose), code).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return oa.ErrNotFound
	}
	return oa.ErrTokenAlreadySpent
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	res := s.conn(ctx).Where("expires_at <= ?", before).Delete(&TokenModel{})
	return res.RowsAffected, res.Error
}
