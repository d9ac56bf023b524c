package authpwn

import (
	"context"
	"errors"
	"fmt"

	"github.com/matthewhartstonge/argon2"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest plaintext SetPassword accepts
const MinPasswordLength = 8

// PasswordHasher turns plaintext passwords into the key of a password credential
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Compare reports whether password matches hash. A mismatch is not an error.
	Compare(hash, password string) (bool, error)
}

// BcryptHasher hashes with bcrypt. A zero Cost uses bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (h BcryptHasher) Compare(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Argon2Hasher hashes with argon2id into the PHC string format. A nil Config
// uses argon2.DefaultConfig().
type Argon2Hasher struct {
	Config *argon2.Config
}

func (h Argon2Hasher) Hash(password string) (string, error) {
	cfg := argon2.DefaultConfig()
	if h.Config != nil {
		cfg = *h.Config
	}
	encoded, err := cfg.HashEncoded([]byte(password))
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(encoded), nil
}

func (h Argon2Hasher) Compare(hash, password string) (bool, error) {
	return argon2.VerifyEncoded([]byte(password), []byte(hash))
}

func (a *Auth) hasher() PasswordHasher {
	if a.Hasher != nil {
		return a.Hasher
	}
	return BcryptHasher{}
}

func (a *Auth) hashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", NewValidationError("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	return a.hasher().Hash(password)
}

// setPasswordHash writes the user's single password credential. An empty
// username keeps the current one.
func (a *Auth) setPasswordHash(ctx context.Context, tx Store, userID, username, hash string) (*Credential, error) {
	creds, err := tx.ListUserCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, c := range creds {
		if c.Kind != KindPassword {
			continue
		}
		if username != "" {
			c.Name = username
		}
		c.Key = hash
		return c, a.updateCredential(ctx, tx, c)
	}
	c := &Credential{UserID: userID, Kind: KindPassword, Name: username, Key: hash}
	return c, a.createCredential(ctx, tx, c)
}

// PasswordCredential validates and hashes a password into an unsaved
// credential, ready for CreateUserWithCredentials
func (a *Auth) PasswordCredential(username, password string) (*Credential, error) {
	hash, err := a.hashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Credential{Kind: KindPassword, Name: username, Key: hash}, nil
}

// SetPassword creates or replaces the user's password credential
func (a *Auth) SetPassword(ctx context.Context, user *User, username, password string) (*Credential, error) {
	hash, err := a.hashPassword(password)
	if err != nil {
		return nil, err
	}
	var cred *Credential
	err = a.Store.Transaction(ctx, func(tx Store) error {
		cred, err = a.setPasswordHash(ctx, tx, user.ID, username, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// CheckPassword reports whether password matches the user's password
// credential. A user without one never matches.
func (a *Auth) CheckPassword(ctx context.Context, user *User, password string) (bool, error) {
	creds, err := a.Store.ListUserCredentials(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load credentials: %w", err)
	}
	for _, c := range creds {
		if c.Kind == KindPassword {
			return a.hasher().Compare(c.Key, password)
		}
	}
	return false, nil
}

// RequestPasswordReset issues a reset token for the owner of an address and
// mails the link if a sender is configured. Unknown addresses return nil
// without error so callers cannot probe which accounts exist.
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) (*Token, error) {
	cred, err := a.FindCredential(ctx, KindEmail, email)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		a.logger().InfoContext(ctx, "password reset requested for unknown address")
		return nil, nil
	}
	token, err := a.Tokens.Issue(ctx, PurposePasswordReset, cred.UserID, cred.Name, 0)
	if err != nil {
		return nil, err
	}
	if a.EmailSender != nil {
		link, err := a.link(a.ResetPasswordPath, "/reset-password", token.Code)
		if err != nil {
			return nil, err
		}
		if err := a.EmailSender.SendPasswordResetEmail(cred.Name, link); err != nil {
			return nil, fmt.Errorf("failed to send password reset email: %w", err)
		}
	}
	return token, nil
}

// ResetPassword redeems a reset code and sets a new password. The token is
// only spent if the address it was sent to still belongs to the user;
// otherwise ErrTokenFactMismatch is returned and nothing changes.
func (a *Auth) ResetPassword(ctx context.Context, code, password string) (*Token, error) {
	hash, err := a.hashPassword(password)
	if err != nil {
		return nil, err
	}
	token, err := a.Tokens.Lookup(ctx, PurposePasswordReset, code)
	if err != nil {
		return nil, err
	}
	spent, err := a.Tokens.SpendWith(ctx, token, func(ctx context.Context, tx Store, t *Token) error {
		creds, err := tx.ListUserCredentials(ctx, t.UserID)
		if err != nil {
			return err
		}
		if matchCredential(creds, KindEmail, t.Fact) == nil {
			return ErrTokenFactMismatch
		}
		_, err = a.setPasswordHash(ctx, tx, t.UserID, "", hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.logger().InfoContext(ctx, "password reset", "user_id", spent.UserID)
	return spent, nil
}
