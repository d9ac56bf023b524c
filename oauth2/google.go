package oauth2

import (
	"context"
	"errors"
	"fmt"

	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

var ErrInvalidGoogleAudience = errors.New("invalid google audience")

// GoogleResolver resolves Google access tokens with the tokeninfo endpoint
type GoogleResolver struct {
	BaseResolver

	// ClientID, if set, must match the token's audience
	ClientID string

	// Endpoint overrides the API root. Can be overridden for testing.
	Endpoint string
}

func NewGoogleResolver(clientID string) *GoogleResolver {
	return &GoogleResolver{ClientID: clientID}
}

func (g *GoogleResolver) ResolveAccountID(ctx context.Context, accessToken string) (string, error) {
	opts := []option.ClientOption{option.WithHTTPClient(g.getHTTPClient())}
	if g.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.Endpoint))
	}
	service, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return "", err
	}

	tokenInfo, err := service.Tokeninfo().AccessToken(accessToken).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to validate google token: %w", err)
	}
	if g.ClientID != "" && tokenInfo.Audience != g.ClientID {
		return "", ErrInvalidGoogleAudience
	}
	if tokenInfo.UserId == "" {
		return "", fmt.Errorf("google token info has no user id")
	}
	return tokenInfo.UserId, nil
}
