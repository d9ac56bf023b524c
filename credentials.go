package authpwn

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind discriminates credential types
type Kind string

const (
	KindPassword Kind = "password"
	KindEmail    Kind = "email"
	KindFacebook Kind = "facebook"
	KindGoogle   Kind = "google"
	KindGithub   Kind = "github"
)

// UniquenessScope says where a credential's (kind, name) pair must be unique
type UniquenessScope int

const (
	// UniqueNone lets any number of credentials share a name
	UniqueNone UniquenessScope = iota
	// UniqueGlobal allows one credential per (kind, name) in the whole store
	UniqueGlobal
	// UniquePerUser allows one credential per (kind, name) within a user
	UniquePerUser
)

// KindPolicy holds the rules for one credential kind. Auth applies the policy
// on every credential write, dispatching on Credential.Kind.
type KindPolicy interface {
	// Normalize canonicalizes a name before validation and indexing
	Normalize(name string) string

	// Validate checks presence and format of name and key
	Validate(name, key string) error

	// Scope returns the uniqueness scope of (kind, name)
	Scope() UniquenessScope

	// Singular reports whether a user may hold at most one credential of the kind
	Singular() bool
}

var validate = validator.New()

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// PasswordPolicy governs password credentials. Name is an optional username
// and Key is the password hash.
type PasswordPolicy struct {
	// UniqueUsernames enforces one username per system
	UniqueUsernames bool
}

func (p PasswordPolicy) Normalize(name string) string { return strings.TrimSpace(name) }

func (p PasswordPolicy) Validate(name, key string) error {
	if name != "" {
		if len(name) < 3 || len(name) > 64 {
			return NewValidationError("name", "username must be 3-64 characters")
		}
		if !usernameRegex.MatchString(name) {
			return NewValidationError("name", "username can only contain letters, numbers, dots, underscores, and hyphens")
		}
	}
	if key == "" {
		return NewValidationError("key", "password hash is required")
	}
	return nil
}

func (p PasswordPolicy) Scope() UniquenessScope {
	if p.UniqueUsernames {
		return UniqueGlobal
	}
	return UniqueNone
}

func (p PasswordPolicy) Singular() bool { return true }

// EmailPolicy governs e-mail credentials. The zero value shares addresses
// freely; DefaultPolicies uses one address per system and one per user.
type EmailPolicy struct {
	Uniqueness UniquenessScope
	// Multiple lets a user hold several e-mail credentials
	Multiple bool
}

func (p EmailPolicy) Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (p EmailPolicy) Validate(name, key string) error {
	if name == "" {
		return NewValidationError("name", "e-mail address is required")
	}
	if err := validate.Var(name, "email"); err != nil {
		return NewValidationError("name", "is not a valid e-mail address")
	}
	return nil
}

func (p EmailPolicy) Scope() UniquenessScope { return p.Uniqueness }
func (p EmailPolicy) Singular() bool         { return !p.Multiple }

// ExternalPolicy governs accounts at an external identity provider (Facebook,
// Google, GitHub). Name is the provider's numeric account ID and Key is the access
// token last issued for it.
type ExternalPolicy struct {
	Provider string
}

func (p ExternalPolicy) Normalize(name string) string { return strings.TrimSpace(name) }

func (p ExternalPolicy) Validate(name, key string) error {
	if name == "" {
		return NewValidationError("name", p.Provider+" account ID is required")
	}
	if err := validate.Var(name, "number"); err != nil {
		return NewValidationError("name", p.Provider+" account ID must be digits only")
	}
	if key == "" {
		return NewValidationError("key", p.Provider+" access token is required")
	}
	return nil
}

func (p ExternalPolicy) Scope() UniquenessScope { return UniqueGlobal }
func (p ExternalPolicy) Singular() bool         { return true }

// DefaultPolicies returns the policies for the built-in kinds
func DefaultPolicies() map[Kind]KindPolicy {
	return map[Kind]KindPolicy{
		KindPassword: PasswordPolicy{},
		KindEmail:    EmailPolicy{Uniqueness: UniqueGlobal},
		KindFacebook: ExternalPolicy{Provider: "Facebook"},
		KindGoogle:   ExternalPolicy{Provider: "Google"},
		KindGithub:   ExternalPolicy{Provider: "GitHub"},
	}
}

// indexKeys derives the UniqueKey and SlotKey a credential must be stored under
func indexKeys(policy KindPolicy, c *Credential) (uniqueKey, slotKey string) {
	if c.Name != "" {
		switch policy.Scope() {
		case UniqueGlobal:
			uniqueKey = string(c.Kind) + ":" + c.Name
		case UniquePerUser:
			uniqueKey = string(c.Kind) + ":" + c.UserID + ":" + c.Name
		}
	}
	if policy.Singular() {
		slotKey = string(c.Kind) + ":" + c.UserID
	}
	return uniqueKey, slotKey
}

// Credential returns the first loaded credential of a kind, or nil
func (u *User) Credential(kind Kind) *Credential {
	for _, c := range u.Credentials {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

// CredentialsOf returns all loaded credentials of a kind
func (u *User) CredentialsOf(kind Kind) []*Credential {
	var out []*Credential
	for _, c := range u.Credentials {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Email returns the address of the user's e-mail credential, or "" if the
// loaded set has none
func (u *User) Email() string {
	if c := u.Credential(KindEmail); c != nil {
		return c.Name
	}
	return ""
}
