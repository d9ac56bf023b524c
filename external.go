package authpwn

import (
	"context"
	"errors"
	"fmt"
)

// IdentityProvider resolves an access token issued by an external service to
// the account ID the service knows the holder by
type IdentityProvider interface {
	ResolveAccountID(ctx context.Context, accessToken string) (string, error)
}

// IdentityProviderFunc adapts a function to IdentityProvider
type IdentityProviderFunc func(ctx context.Context, accessToken string) (string, error)

func (f IdentityProviderFunc) ResolveAccountID(ctx context.Context, accessToken string) (string, error) {
	return f(ctx, accessToken)
}

// FacebookPlaceholderDomain is the domain of the address Facebook's graph API
// relays mail through for an account ID
const FacebookPlaceholderDomain = "graph.facebook.com"

// ExternalIdentity finds or creates users from external access tokens for one
// credential kind
type ExternalIdentity struct {
	auth     *Auth
	Kind     Kind
	Provider IdentityProvider

	// PlaceholderEmailDomain, if set, adds an unverified e-mail credential
	// named <account id>@<domain> to users created on first sign-in
	PlaceholderEmailDomain string
}

// ExternalIdentity binds a provider to a credential kind
func (a *Auth) ExternalIdentity(kind Kind, provider IdentityProvider) *ExternalIdentity {
	return &ExternalIdentity{
		auth:                   a,
		Kind:                   kind,
		Provider:               provider,
		PlaceholderEmailDomain: a.PlaceholderEmailDomains[kind],
	}
}

// ForExternalToken signs in with the provider registered in Providers for kind
func (a *Auth) ForExternalToken(ctx context.Context, kind Kind, accessToken string) (*User, error) {
	provider, ok := a.Providers[kind]
	if !ok || provider == nil {
		return nil, NewValidationError("kind", fmt.Sprintf("no identity provider for %q", kind))
	}
	return a.ExternalIdentity(kind, provider).ForExternalToken(ctx, accessToken)
}

// ForExternalToken returns the user owning the provider account behind
// accessToken, creating the user on first sight. The stored access token is
// replaced with the new one on every call.
func (x *ExternalIdentity) ForExternalToken(ctx context.Context, accessToken string) (*User, error) {
	accountID, err := x.Provider.ResolveAccountID(ctx, accessToken)
	if err == nil && accountID == "" {
		err = errors.New("no account id in response")
	}
	if err != nil {
		return nil, &ExternalServiceError{Provider: string(x.Kind), Err: err}
	}

	user, err := x.upsert(ctx, accountID, accessToken)
	if errors.Is(err, ErrUniquenessViolation) {
		// Another request created the account first. Its credential is now
		// visible, so the lookup path wins this time.
		x.auth.logger().InfoContext(ctx, "lost first sign-in race, retrying", "kind", x.Kind)
		user, err = x.upsert(ctx, accountID, accessToken)
	}
	return user, err
}

func (x *ExternalIdentity) upsert(ctx context.Context, accountID, accessToken string) (*User, error) {
	a := x.auth
	name := accountID
	if policy, ok := a.policy(x.Kind); ok {
		name = policy.Normalize(accountID)
	}

	var user *User
	err := a.Store.Transaction(ctx, func(tx Store) error {
		cred, err := tx.GetCredential(ctx, x.Kind, name)
		switch {
		case err == nil:
			cred.Key = accessToken
			if err := a.updateCredential(ctx, tx, cred); err != nil {
				return err
			}
			user, err = tx.GetUserByID(ctx, cred.UserID)
			return err
		case errors.Is(err, ErrNotFound):
			u, err := a.createUser(ctx, tx)
			if err != nil {
				return err
			}
			cred = &Credential{UserID: u.ID, Kind: x.Kind, Name: name, Key: accessToken}
			if err := a.createCredential(ctx, tx, cred); err != nil {
				return err
			}
			u.Credentials = []*Credential{cred}
			if x.PlaceholderEmailDomain != "" {
				email := &Credential{UserID: u.ID, Kind: KindEmail, Name: name + "@" + x.PlaceholderEmailDomain}
				if err := a.createCredential(ctx, tx, email); err != nil {
					return err
				}
				u.Credentials = append(u.Credentials, email)
			}
			user = u
			a.logger().InfoContext(ctx, "created user from external identity", "kind", x.Kind, "user_id", u.ID)
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
