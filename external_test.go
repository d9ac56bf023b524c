package authpwn_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/panyam/authpwn"
)

// fixedProvider resolves every token to the same account
func fixedProvider(accountID string) authpwn.IdentityProvider {
	return authpwn.IdentityProviderFunc(func(ctx context.Context, accessToken string) (string, error) {
		return accountID, nil
	})
}

func TestExternalIdentityUpsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		facebook := env.auth.ExternalIdentity(authpwn.KindFacebook, fixedProvider("100200300"))

		first, err := facebook.ForExternalToken(ctx, "token-1")
		if err != nil {
			t.Fatalf("ForExternalToken() error = %v", err)
		}
		if c := first.Credential(authpwn.KindFacebook); c == nil || c.Name != "100200300" || c.Key != "token-1" {
			t.Fatalf("unexpected credential %+v", c)
		}

		second, err := facebook.ForExternalToken(ctx, "token-2")
		if err != nil {
			t.Fatalf("ForExternalToken() error = %v", err)
		}
		if second.ID != first.ID || second.ExUID != first.ExUID {
			t.Errorf("expected the same user, got %s and %s", first.ID, second.ID)
		}

		cred, err := env.auth.FindCredential(ctx, authpwn.KindFacebook, "100200300")
		if err != nil || cred == nil {
			t.Fatalf("FindCredential() = %v, %v", cred, err)
		}
		if cred.Key != "token-2" {
			t.Errorf("expected the stored key to be replaced, got %q", cred.Key)
		}
		creds, err := env.store.ListUserCredentials(ctx, first.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(creds) != 1 {
			t.Errorf("expected one credential, got %d", len(creds))
		}
	})
}

func TestExternalIdentityPlaceholderEmail(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.auth.PlaceholderEmailDomains = map[authpwn.Kind]string{
			authpwn.KindFacebook: authpwn.FacebookPlaceholderDomain,
		}
		env.auth.Providers[authpwn.KindFacebook] = fixedProvider("4455")
		env.auth.Providers[authpwn.KindGithub] = fixedProvider("4455")

		user, err := env.auth.ForExternalToken(ctx, authpwn.KindFacebook, "token-1")
		if err != nil {
			t.Fatalf("ForExternalToken() error = %v", err)
		}
		email := user.Credential(authpwn.KindEmail)
		if email == nil || email.Name != "4455@graph.facebook.com" || email.Verified {
			t.Fatalf("unexpected placeholder credential %+v", email)
		}
		found, err := env.auth.FindUserByEmail(ctx, "4455@graph.facebook.com")
		if err != nil || found == nil || found.ID != user.ID {
			t.Errorf("FindUserByEmail() = %+v, %v", found, err)
		}

		// Returning users are not given a second address
		again, err := env.auth.ForExternalToken(ctx, authpwn.KindFacebook, "token-2")
		if err != nil {
			t.Fatal(err)
		}
		creds, err := env.store.ListUserCredentials(ctx, again.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(creds) != 2 {
			t.Errorf("expected facebook and email credentials, got %d", len(creds))
		}

		// Kinds without a domain get no address
		other, err := env.auth.ForExternalToken(ctx, authpwn.KindGithub, "token-3")
		if err != nil {
			t.Fatal(err)
		}
		if c := other.Credential(authpwn.KindEmail); c != nil {
			t.Errorf("unexpected email credential %+v", c)
		}
	})
}

func TestExternalIdentityProviderFailure(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		down := errors.New("connection refused")
		tests := []struct {
			name     string
			provider authpwn.IdentityProviderFunc
		}{
			{"error", func(ctx context.Context, token string) (string, error) { return "", down }},
			{"empty id", func(ctx context.Context, token string) (string, error) { return "", nil }},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				x := env.auth.ExternalIdentity(authpwn.KindFacebook, tt.provider)
				user, err := x.ForExternalToken(ctx, "token")
				var serr *authpwn.ExternalServiceError
				if !errors.As(err, &serr) {
					t.Fatalf("expected ExternalServiceError, got %v", err)
				}
				if user != nil {
					t.Errorf("expected no user, got %+v", user)
				}
			})
		}

		x := env.auth.ExternalIdentity(authpwn.KindFacebook, tests[0].provider)
		if _, err := x.ForExternalToken(ctx, "token"); !errors.Is(err, down) {
			t.Errorf("expected the cause to be unwrapped, got %v", err)
		}
	})
}

func TestExternalIdentityInvalidAccountLeavesNoRecords(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		x := env.auth.ExternalIdentity(authpwn.KindFacebook, fixedProvider("not-a-number"))

		user, err := x.ForExternalToken(ctx, "token")
		var verr *authpwn.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if user != nil {
			t.Fatalf("expected no user, got %+v", user)
		}
		if cred, _ := env.auth.FindCredential(ctx, authpwn.KindFacebook, "not-a-number"); cred != nil {
			t.Error("no credential should be stored")
		}
	})
}

func TestForExternalTokenUsesRegisteredProvider(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.auth.Providers[authpwn.KindGoogle] = fixedProvider("555")

		user, err := env.auth.ForExternalToken(ctx, authpwn.KindGoogle, "g-token")
		if err != nil {
			t.Fatalf("ForExternalToken() error = %v", err)
		}
		if c := user.Credential(authpwn.KindGoogle); c == nil || c.Name != "555" {
			t.Errorf("unexpected credential %+v", c)
		}

		// The same account id under another kind is a different identity
		env.auth.Providers[authpwn.KindGithub] = fixedProvider("555")
		other, err := env.auth.ForExternalToken(ctx, authpwn.KindGithub, "gh-token")
		if err != nil {
			t.Fatal(err)
		}
		if other.ID == user.ID {
			t.Error("expected a separate user for a different provider")
		}

		var verr *authpwn.ValidationError
		if _, err := env.auth.ForExternalToken(ctx, authpwn.KindFacebook, "token"); !errors.As(err, &verr) {
			t.Errorf("expected ValidationError without a provider, got %v", err)
		}
	})
}

func TestExternalIdentityConcurrentFirstSignIn(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		x := env.auth.ExternalIdentity(authpwn.KindFacebook, fixedProvider("42"))

		const workers = 6
		var wg sync.WaitGroup
		users := make([]*authpwn.User, workers)
		errs := make([]error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				users[i], errs[i] = x.ForExternalToken(context.Background(), "token")
			}()
		}
		wg.Wait()

		for i := range workers {
			if errs[i] != nil {
				t.Fatalf("worker %d: %v", i, errs[i])
			}
			if users[i].ID != users[0].ID {
				t.Errorf("worker %d got user %s, want %s", i, users[i].ID, users[0].ID)
			}
		}
	})
}
