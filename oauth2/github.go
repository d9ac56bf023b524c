package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
)

// GithubResolver resolves GitHub OAuth access tokens to numeric user IDs
type GithubResolver struct {
	BaseResolver

	// UserInfoURL is the URL to fetch user info from. Defaults to GitHub's API.
	// Can be overridden for testing.
	UserInfoURL string
}

func NewGithubResolver() *GithubResolver {
	return &GithubResolver{UserInfoURL: "https://api.github.com/user"}
}

func (g *GithubResolver) ResolveAccountID(ctx context.Context, accessToken string) (string, error) {
	var userInfo struct {
		ID json.Number `json:"id"`
	}
	if err := g.getJSON(ctx, g.UserInfoURL, accessToken, &userInfo); err != nil {
		return "", err
	}
	if userInfo.ID == "" {
		return "", fmt.Errorf("github user info has no id")
	}
	return userInfo.ID.String(), nil
}
