package authpwn

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// exuidBytes of randomness encode to exactly 16 base32 characters
const exuidBytes = 10

// maxExUIDAttempts bounds retries when a generated exuid is already taken
const maxExUIDAttempts = 8

var exuidEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

var exuidRegex = regexp.MustCompile(`^[a-z2-7]{16}$`)

// GenerateExUID returns a new random external user ID
func GenerateExUID(r io.Reader) (string, error) {
	b := make([]byte, exuidBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to generate exuid: %w", err)
	}
	return exuidEncoding.EncodeToString(b), nil
}

// CreateUser registers a new user with a fresh exuid
func (a *Auth) CreateUser(ctx context.Context) (*User, error) {
	var user *User
	err := a.Store.Transaction(ctx, func(tx Store) error {
		u, err := a.createUser(ctx, tx)
		user = u
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (a *Auth) createUser(ctx context.Context, s Store) (*User, error) {
	for attempt := 1; ; attempt++ {
		exuid, err := GenerateExUID(a.random())
		if err != nil {
			return nil, err
		}
		now := a.now()
		user := &User{
			ID:        uuid.NewString(),
			ExUID:     exuid,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.CreateUser(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrUniquenessViolation) || attempt >= maxExUIDAttempts {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		a.logger().WarnContext(ctx, "exuid collision, retrying", "attempt", attempt)
	}
}

// FindUserByExternalID resolves an exuid taken from untrusted input. Empty,
// malformed and unknown values all return a nil user and no error.
func (a *Auth) FindUserByExternalID(ctx context.Context, exuid string) (*User, error) {
	exuid = strings.TrimSpace(exuid)
	if !exuidRegex.MatchString(exuid) {
		return nil, nil
	}
	user, err := a.Store.GetUserByExUID(ctx, exuid)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindUserByEmail returns the user owning an e-mail credential, or nil
func (a *Auth) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	cred, err := a.FindCredential(ctx, KindEmail, email)
	if err != nil || cred == nil {
		return nil, err
	}
	user, err := a.Store.GetUserByID(ctx, cred.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// GetUser loads a user by internal ID. Returns ErrNotFound if it does not exist.
func (a *Auth) GetUser(ctx context.Context, userID string) (*User, error) {
	return a.Store.GetUserByID(ctx, userID)
}

// DeleteUser removes a user and its credentials. Tokens issued to the user
// stay until they expire and are purged; spending one finds nothing to act on.
func (a *Auth) DeleteUser(ctx context.Context, userID string) error {
	if err := a.Store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	a.logger().InfoContext(ctx, "user deleted", "user_id", userID)
	return nil
}

// LoadCredentials fills user.Credentials from the store
func (a *Auth) LoadCredentials(ctx context.Context, user *User) error {
	creds, err := a.Store.ListUserCredentials(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	user.Credentials = creds
	return nil
}

// SetEmail gives a user an e-mail address. An existing e-mail credential is
// renamed and loses its verified flag when the address changes; otherwise a
// new unverified one is created.
func (a *Auth) SetEmail(ctx context.Context, user *User, email string) (*Credential, error) {
	var cred *Credential
	err := a.Store.Transaction(ctx, func(tx Store) error {
		creds, err := tx.ListUserCredentials(ctx, user.ID)
		if err != nil {
			return err
		}
		normalized := email
		if policy, ok := a.policy(KindEmail); ok {
			normalized = policy.Normalize(email)
		}
		for _, c := range creds {
			if c.Kind != KindEmail {
				continue
			}
			if c.Name == normalized {
				cred = c
				return nil
			}
			c.Name = normalized
			c.Verified = false
			cred = c
			return a.updateCredential(ctx, tx, c)
		}
		cred = &Credential{UserID: user.ID, Kind: KindEmail, Name: normalized}
		return a.createCredential(ctx, tx, cred)
	})
	if err != nil {
		return nil, err
	}
	if err := a.LoadCredentials(ctx, user); err != nil {
		return nil, err
	}
	return cred, nil
}
