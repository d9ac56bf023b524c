package authpwn

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Auth ties the credential store, user registry and token flows to one
// Store. Fields may be changed after NewAuth and before first use.
type Auth struct {
	Store Store

	// Policies holds the rules for each credential kind. Kinds without a
	// policy cannot be written.
	Policies map[Kind]KindPolicy

	// Hasher hashes password credential keys (bcrypt by default)
	Hasher PasswordHasher

	// Providers resolves external access tokens per credential kind
	Providers map[Kind]IdentityProvider

	// PlaceholderEmailDomains gives users created from an external identity
	// an unverified <account id>@<domain> address, per kind. Empty by default.
	PlaceholderEmailDomains map[Kind]string

	// Optional email sender for verification and reset links
	EmailSender SendEmail

	// Base URL for generating verification/reset links
	BaseURL string

	// Paths appended to BaseURL (defaults to /verify-email and /reset-password)
	VerifyEmailPath   string
	ResetPasswordPath string

	Clock  func() time.Time
	Random io.Reader
	Logger *slog.Logger

	// Tokens follows the clock and random source above
	Tokens *TokenEngine
}

// NewAuth creates an Auth over a store with the default policies and the
// built-in token strategies registered
func NewAuth(store Store) *Auth {
	a := &Auth{
		Store:     store,
		Policies:  DefaultPolicies(),
		Hasher:    BcryptHasher{},
		Providers: map[Kind]IdentityProvider{},
		Clock:     time.Now,
		Random:    rand.Reader,
		Logger:    slog.Default(),
	}
	a.Tokens = NewTokenEngine(store)
	a.Tokens.Clock = a.now
	a.Tokens.Random = authRandom{a}
	a.Tokens.Register(PurposeEmailVerification, a.verifyEmailStrategy)
	return a
}

// authRandom reads from the Auth's current random source so tests can swap
// it after construction
type authRandom struct{ a *Auth }

func (r authRandom) Read(p []byte) (int, error) { return r.a.random().Read(p) }

func (a *Auth) now() time.Time {
	if a.Clock != nil {
		return a.Clock().UTC()
	}
	return time.Now().UTC()
}

func (a *Auth) random() io.Reader {
	if a.Random != nil {
		return a.Random
	}
	return rand.Reader
}

func (a *Auth) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Auth) policy(kind Kind) (KindPolicy, bool) {
	p, ok := a.Policies[kind]
	return p, ok && p != nil
}

// prepareCredential normalizes and validates a credential against its kind
// policy and derives its index keys
func (a *Auth) prepareCredential(c *Credential) error {
	policy, ok := a.policy(c.Kind)
	if !ok {
		return NewValidationError("kind", fmt.Sprintf("unknown credential kind %q", c.Kind))
	}
	if c.UserID == "" {
		return NewValidationError("user", "is required")
	}
	c.Name = policy.Normalize(c.Name)
	if err := policy.Validate(c.Name, c.Key); err != nil {
		return err
	}
	c.UniqueKey, c.SlotKey = indexKeys(policy, c)
	return nil
}

// createCredential writes a credential through s, which is usually a
// transaction the caller already holds
func (a *Auth) createCredential(ctx context.Context, s Store, c *Credential) error {
	if err := a.prepareCredential(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := a.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.CreateCredential(ctx, c); err != nil {
		return credentialWriteError(c, err)
	}
	return nil
}

// updateCredential saves a changed credential. The owner and kind are fixed
// at creation.
func (a *Auth) updateCredential(ctx context.Context, s Store, c *Credential) error {
	stored, err := s.GetCredentialByID(ctx, c.ID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	if err != nil {
		return fmt.Errorf("failed to load credential: %w", err)
	}
	if c.UserID != stored.UserID {
		return NewValidationError("user", "cannot change the owner of a credential")
	}
	if c.Kind != stored.Kind {
		return NewValidationError("kind", "cannot change the kind of a credential")
	}
	if err := a.prepareCredential(c); err != nil {
		return err
	}
	c.UpdatedAt = a.now()
	if err := s.UpdateCredential(ctx, c); err != nil {
		return credentialWriteError(c, err)
	}
	return nil
}

func credentialWriteError(c *Credential, err error) error {
	if errors.Is(err, ErrUniquenessViolation) {
		return fmt.Errorf("%s credential %q: %w", c.Kind, c.Name, err)
	}
	return fmt.Errorf("failed to save credential: %w", err)
}

// CreateCredential validates and persists a credential for an existing user
func (a *Auth) CreateCredential(ctx context.Context, c *Credential) (*Credential, error) {
	if c == nil {
		return nil, NewValidationError("credential", "is required")
	}
	err := a.Store.Transaction(ctx, func(tx Store) error {
		if c.UserID != "" {
			if _, err := tx.GetUserByID(ctx, c.UserID); err != nil {
				if errors.Is(err, ErrNotFound) {
					return NewValidationError("user", "does not exist")
				}
				return err
			}
		}
		return a.createCredential(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateUserWithCredentials creates a user and its credentials atomically.
// Either all of them are persisted or none is.
func (a *Auth) CreateUserWithCredentials(ctx context.Context, creds ...*Credential) (*User, error) {
	var user *User
	err := a.Store.Transaction(ctx, func(tx Store) error {
		u, err := a.createUser(ctx, tx)
		if err != nil {
			return err
		}
		for _, c := range creds {
			if c == nil {
				continue
			}
			c.UserID = u.ID
			if err := a.createCredential(ctx, tx, c); err != nil {
				return err
			}
			u.Credentials = append(u.Credentials, c)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateCredential re-validates and saves a changed credential
func (a *Auth) UpdateCredential(ctx context.Context, c *Credential) error {
	if c == nil || c.ID == "" {
		return NewValidationError("credential", "is required")
	}
	return a.Store.Transaction(ctx, func(tx Store) error {
		return a.updateCredential(ctx, tx, c)
	})
}

// DeleteCredential detaches a credential from its user
func (a *Auth) DeleteCredential(ctx context.Context, credentialID string) error {
	if err := a.Store.DeleteCredential(ctx, credentialID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// FindCredential finds the credential with a kind and name, or returns nil
// if there is none
func (a *Auth) FindCredential(ctx context.Context, kind Kind, name string) (*Credential, error) {
	if policy, ok := a.policy(kind); ok {
		name = policy.Normalize(name)
	}
	if name == "" {
		return nil, nil
	}
	c, err := a.Store.GetCredential(ctx, kind, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	return c, nil
}

// matchCredential picks the credential with a kind and name from a loaded set
func matchCredential(creds []*Credential, kind Kind, name string) *Credential {
	for _, c := range creds {
		if c.Kind == kind && c.Name == name {
			return c
		}
	}
	return nil
}
