package oauth2

import (
	"context"
	"fmt"
	"strings"
)

// FacebookResolver resolves Facebook access tokens through the Graph API
type FacebookResolver struct {
	BaseResolver

	// GraphURL is the Graph API root. Can be overridden for testing.
	GraphURL string
}

func NewFacebookResolver() *FacebookResolver {
	return &FacebookResolver{GraphURL: "https://graph.facebook.com"}
}

func (f *FacebookResolver) ResolveAccountID(ctx context.Context, accessToken string) (string, error) {
	var me struct {
		ID    string `json:"id"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	url := strings.TrimRight(f.GraphURL, "/") + "/me?fields=id"
	if err := f.getJSON(ctx, url, accessToken, &me); err != nil {
		return "", err
	}
	if me.Error != nil {
		return "", fmt.Errorf("facebook: %s", me.Error.Message)
	}
	if me.ID == "" {
		return "", fmt.Errorf("facebook response has no id")
	}
	return me.ID, nil
}
