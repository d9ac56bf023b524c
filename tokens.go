package authpwn

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Purpose identifies what a token grants
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// Default token expiry durations
const (
	TokenExpiryEmailVerification = 24 * time.Hour // 24 hours
	TokenExpiryPasswordReset     = 1 * time.Hour  // 1 hour
	TokenExpiryDefault           = 24 * time.Hour
)

// codeBytes is the entropy of a token code before hex encoding
const codeBytes = 32

const maxCodeAttempts = 3

// Token is a single-use, expiring grant issued to a user for one purpose
type Token struct {
	ID        string     `json:"id"`
	Purpose   Purpose    `json:"purpose"`
	Code      string     `json:"code"`
	UserID    string     `json:"user_id"`
	Fact      string     `json:"fact"` // the value vouched for at issuance, e.g. an e-mail address
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	SpentAt   *time.Time `json:"spent_at,omitempty"`
}

// IsSpent reports whether the token has been redeemed
func (t *Token) IsSpent() bool {
	return t.SpentAt != nil
}

// IsExpired checks if a token has expired at the given time
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsValid checks if a token can still be redeemed at the given time
func (t *Token) IsValid(now time.Time) bool {
	return !t.IsSpent() && !t.IsExpired(now)
}

// SpendStrategy applies the side effect of spending a token. It runs inside
// the spend transaction and must only touch the store through tx; returning
// an error rolls the spend back and leaves the token redeemable.
type SpendStrategy func(ctx context.Context, tx Store, token *Token) error

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	return generateCode(rand.Reader)
}

func generateCode(r io.Reader) (string, error) {
	b := make([]byte, codeBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TokenEngine issues, looks up and spends one-time tokens
type TokenEngine struct {
	Store  Store
	Clock  func() time.Time
	Random io.Reader
	Logger *slog.Logger

	// TTLs overrides the default lifetime per purpose
	TTLs map[Purpose]time.Duration

	strategies map[Purpose]SpendStrategy
}

// NewTokenEngine creates an engine over a store with default clock, random
// source and TTLs
func NewTokenEngine(store Store) *TokenEngine {
	return &TokenEngine{
		Store:  store,
		Clock:  time.Now,
		Random: rand.Reader,
		Logger: slog.Default(),
		TTLs: map[Purpose]time.Duration{
			PurposeEmailVerification: TokenExpiryEmailVerification,
			PurposePasswordReset:     TokenExpiryPasswordReset,
		},
		strategies: map[Purpose]SpendStrategy{},
	}
}

// Register sets the spend strategy for a purpose
func (e *TokenEngine) Register(purpose Purpose, strategy SpendStrategy) {
	if e.strategies == nil {
		e.strategies = map[Purpose]SpendStrategy{}
	}
	e.strategies[purpose] = strategy
}

func (e *TokenEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

func (e *TokenEngine) random() io.Reader {
	if e.Random != nil {
		return e.Random
	}
	return rand.Reader
}

func (e *TokenEngine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *TokenEngine) ttl(purpose Purpose) time.Duration {
	if ttl, ok := e.TTLs[purpose]; ok && ttl > 0 {
		return ttl
	}
	return TokenExpiryDefault
}

// Issue creates a token for a user. A ttl <= 0 uses the purpose's default.
func (e *TokenEngine) Issue(ctx context.Context, purpose Purpose, userID, fact string, ttl time.Duration) (*Token, error) {
	if purpose == "" {
		return nil, fmt.Errorf("token purpose is required")
	}
	if userID == "" {
		return nil, fmt.Errorf("token user is required")
	}
	if ttl <= 0 {
		ttl = e.ttl(purpose)
	}

	for attempt := 0; ; attempt++ {
		code, err := generateCode(e.random())
		if err != nil {
			return nil, err
		}
		now := e.now()
		token := &Token{
			ID:        uuid.NewString(),
			Purpose:   purpose,
			Code:      code,
			UserID:    userID,
			Fact:      fact,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		err = e.Store.CreateToken(ctx, token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrUniquenessViolation) || attempt+1 >= maxCodeAttempts {
			return nil, fmt.Errorf("failed to create token: %w", err)
		}
		e.logger().WarnContext(ctx, "token code collision, retrying", "purpose", purpose)
	}
}

// Lookup finds a token by purpose and code. It does not inspect the token's
// state, so a spent or expired token is returned like any other.
func (e *TokenEngine) Lookup(ctx context.Context, purpose Purpose, code string) (*Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrTokenNotFound
	}
	token, err := e.Store.GetToken(ctx, purpose, code)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// Spend redeems a token using the strategy registered for its purpose
func (e *TokenEngine) Spend(ctx context.Context, token *Token) (*Token, error) {
	if token == nil {
		return nil, ErrTokenNotFound
	}
	return e.SpendWith(ctx, token, e.strategies[token.Purpose])
}

// SpendWith redeems a token, running strategy in the same transaction that
// marks the token spent. A nil strategy only marks the token.
//
// Only the purpose and code of token are trusted. The stored token is
// reloaded inside the transaction and its state, user and fact are what the
// strategy sees.
func (e *TokenEngine) SpendWith(ctx context.Context, token *Token, strategy SpendStrategy) (*Token, error) {
	if token == nil {
		return nil, ErrTokenNotFound
	}
	now := e.now()

	var spent *Token
	err := e.Store.Transaction(ctx, func(tx Store) error {
		stored, err := tx.GetToken(ctx, token.Purpose, token.Code)
		if errors.Is(err, ErrNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load token: %w", err)
		}
		if stored.IsSpent() {
			return ErrTokenAlreadySpent
		}
		if stored.IsExpired(now) {
			return ErrTokenExpired
		}
		if err := tx.MarkTokenSpent(ctx, stored.Purpose, stored.Code, now); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		if strategy != nil {
			if err := strategy(ctx, tx, stored); err != nil {
				return err
			}
		}
		stored.SpentAt = &now
		spent = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return spent, nil
}

// Redeem looks up a token and spends it
func (e *TokenEngine) Redeem(ctx context.Context, purpose Purpose, code string) (*Token, error) {
	token, err := e.Lookup(ctx, purpose, code)
	if err != nil {
		return nil, err
	}
	return e.Spend(ctx, token)
}

// PurgeExpired removes tokens that have expired. Returns the number removed.
func (e *TokenEngine) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := e.Store.DeleteExpiredTokens(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	if n > 0 {
		e.logger().InfoContext(ctx, "purged expired tokens", "count", n)
	}
	return n, nil
}
