package oauth2

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenResolver accepts a signed OpenID Connect ID token instead of an
// access token and returns its subject. Keyfunc supplies the verification key.
type IDTokenResolver struct {
	Issuer   string
	Audience string
	Keyfunc  jwt.Keyfunc

	// Methods lists accepted signing algorithms. Defaults to RS256.
	Methods []string
}

func (r *IDTokenResolver) ResolveAccountID(ctx context.Context, idToken string) (string, error) {
	methods := r.Methods
	if len(methods) == 0 {
		methods = []string{jwt.SigningMethodRS256.Alg()}
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if r.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.Issuer))
	}
	if r.Audience != "" {
		opts = append(opts, jwt.WithAudience(r.Audience))
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(idToken, &claims, r.Keyfunc, opts...); err != nil {
		return "", fmt.Errorf("invalid id token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("id token has no subject")
	}
	return claims.Subject, nil
}
