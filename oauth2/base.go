// Package oauth2 resolves access tokens issued by external identity providers
// to the provider's account ID. Each resolver implements
// authpwn.IdentityProvider and can be registered in Auth.Providers.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

// BaseResolver holds what every HTTP-backed resolver shares
type BaseResolver struct {
	// HTTPClient is used for provider calls. Defaults to http.DefaultClient.
	// Can be overridden for testing.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// SetHTTPClient sets the client used for provider calls
func (b *BaseResolver) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

func (b *BaseResolver) getHTTPClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

func (b *BaseResolver) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// authorizedClient wraps the base client so requests carry accessToken as a
// bearer token
func (b *BaseResolver) authorizedClient(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.getHTTPClient())
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
}

// getJSON fetches url with the access token and decodes the JSON body into v
func (b *BaseResolver) getJSON(ctx context.Context, url, accessToken string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	response, err := b.authorizedClient(ctx, accessToken).Do(req)
	if err != nil {
		return fmt.Errorf("failed getting user info: %w", err)
	}
	defer response.Body.Close()

	contents, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed read response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		b.logger().InfoContext(ctx, "provider rejected token", "url", url, "status", response.StatusCode)
		return fmt.Errorf("provider returned status %d", response.StatusCode)
	}
	if err := json.Unmarshal(contents, v); err != nil {
		return fmt.Errorf("failed to parse user info: %w", err)
	}
	return nil
}
