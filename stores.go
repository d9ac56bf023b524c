package authpwn

import (
	"context"
	"time"
)

// User is an account in your system. ID is the internal primary key; ExUID is
// the identifier handed out to clients and accepted back from untrusted input.
type User struct {
	ID        string    `json:"id"`
	ExUID     string    `json:"exuid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Credentials is the set loaded by Auth.LoadCredentials. Stores never
	// persist it; credentials are written through the CredentialStore.
	Credentials []*Credential `json:"-"`
}

// Credential is a typed proof of identity owned by exactly one user.
type Credential struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Kind     Kind   `json:"kind"`     // "password", "email", "facebook", ...
	Name     string `json:"name"`     // e-mail address, external account id, username
	Key      string `json:"key"`      // password hash, access token
	Verified bool   `json:"verified"` // meaningful for e-mail credentials

	// UniqueKey and SlotKey are derived from the kind policy by Auth before a
	// write. Stores must reject a write that duplicates a non-empty value of
	// either; empty values are unconstrained.
	UniqueKey string `json:"unique_key,omitempty"`
	SlotKey   string `json:"slot_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserStore manages user accounts
type UserStore interface {
	// CreateUser persists a new user. Returns ErrUniquenessViolation if the
	// ID or ExUID is already taken.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID returns ErrNotFound if no such user exists
	GetUserByID(ctx context.Context, userID string) (*User, error)

	// GetUserByExUID returns ErrNotFound if no such user exists
	GetUserByExUID(ctx context.Context, exuid string) (*User, error)

	// DeleteUser removes a user together with all of its credentials
	DeleteUser(ctx context.Context, userID string) error
}

// CredentialStore manages credentials
type CredentialStore interface {
	// CreateCredential persists a new credential. Returns
	// ErrUniquenessViolation when UniqueKey or SlotKey collides.
	CreateCredential(ctx context.Context, credential *Credential) error

	// UpdateCredential overwrites an existing credential, enforcing the same
	// index constraints as CreateCredential.
	UpdateCredential(ctx context.Context, credential *Credential) error

	// DeleteCredential removes a credential by ID
	DeleteCredential(ctx context.Context, credentialID string) error

	// GetCredentialByID returns ErrNotFound for an unknown ID
	GetCredentialByID(ctx context.Context, credentialID string) (*Credential, error)

	// GetCredential finds a credential by (kind, name) using an index.
	// Returns ErrNotFound if there is none.
	GetCredential(ctx context.Context, kind Kind, name string) (*Credential, error)

	// ListUserCredentials returns every credential owned by a user. An unknown
	// user has no credentials.
	ListUserCredentials(ctx context.Context, userID string) ([]*Credential, error)
}

// TokenStore manages one-time tokens
type TokenStore interface {
	// CreateToken persists a new token. Returns ErrUniquenessViolation if
	// (purpose, code) is taken.
	CreateToken(ctx context.Context, token *Token) error

	// GetToken finds a token by (purpose, code). Returns ErrNotFound if none.
	GetToken(ctx context.Context, purpose Purpose, code string) (*Token, error)

	// MarkTokenSpent sets spent_at only if it is still unset. Returns
	// ErrTokenAlreadySpent if another spend got there first and ErrNotFound
	// if the token does not exist.
	MarkTokenSpent(ctx context.Context, purpose Purpose, code string, spentAt time.Time) error

	// DeleteExpiredTokens removes tokens that expired before the cutoff
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// Store is the persistent state shared by all auth flows.
type Store interface {
	UserStore
	CredentialStore
	TokenStore

	// Transaction runs fn against a Store bound to a single transaction. The
	// transaction commits if fn returns nil and rolls back otherwise. Calling
	// Transaction on a transactional Store nests inside the outer one, which
	// still decides the final commit.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
