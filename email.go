package authpwn

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// SendEmail interface allows applications to provide their own email sending implementation
type SendEmail interface {
	SendVerificationEmail(to string, verificationLink string) error
	SendPasswordResetEmail(to string, resetLink string) error
}

// ConsoleEmailSender is a development implementation that logs emails instead of sending them
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ConsoleEmailSender) SendVerificationEmail(to string, verificationLink string) error {
	c.logger().Info("email",
		"kind", "verification",
		"to", to,
		"subject", "Verify your email address",
		"link", verificationLink)
	return nil
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(to string, resetLink string) error {
	c.logger().Info("email",
		"kind", "password_reset",
		"to", to,
		"subject", "Reset your password",
		"link", resetLink)
	return nil
}

// link builds BaseURL + path with the token code in the query string
func (a *Auth) link(path, fallback, code string) (string, error) {
	if path == "" {
		path = fallback
	}
	u, err := url.Parse(strings.TrimRight(a.BaseURL, "/") + path)
	if err != nil {
		return "", fmt.Errorf("failed to build link: %w", err)
	}
	q := u.Query()
	q.Set("token", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// IssueEmailVerification issues a token vouching that the address of an
// e-mail credential belongs to its user
func (a *Auth) IssueEmailVerification(ctx context.Context, cred *Credential) (*Token, error) {
	if cred == nil || cred.Kind != KindEmail {
		return nil, NewValidationError("credential", "must be an e-mail credential")
	}
	return a.Tokens.Issue(ctx, PurposeEmailVerification, cred.UserID, cred.Name, 0)
}

// SendEmailVerification issues a verification token and mails its link to
// the credential's address
func (a *Auth) SendEmailVerification(ctx context.Context, cred *Credential) (*Token, error) {
	if a.EmailSender == nil {
		return nil, fmt.Errorf("email sender not configured")
	}
	token, err := a.IssueEmailVerification(ctx, cred)
	if err != nil {
		return nil, err
	}
	link, err := a.link(a.VerifyEmailPath, "/verify-email", token.Code)
	if err != nil {
		return nil, err
	}
	if err := a.EmailSender.SendVerificationEmail(cred.Name, link); err != nil {
		return nil, fmt.Errorf("failed to send verification email: %w", err)
	}
	a.logger().InfoContext(ctx, "verification email sent", "user_id", cred.UserID)
	return token, nil
}

// VerifyEmail redeems an e-mail verification code
func (a *Auth) VerifyEmail(ctx context.Context, code string) (*Token, error) {
	return a.Tokens.Redeem(ctx, PurposeEmailVerification, code)
}

// verifyEmailStrategy marks the user's e-mail credential verified if its
// address still equals the one the token was issued for. A user who changed
// address since then gets nothing verified, and the token is still spent.
func (a *Auth) verifyEmailStrategy(ctx context.Context, tx Store, token *Token) error {
	creds, err := tx.ListUserCredentials(ctx, token.UserID)
	if err != nil {
		return err
	}
	cred := matchCredential(creds, KindEmail, token.Fact)
	if cred == nil {
		a.logger().InfoContext(ctx, "verification token no longer matches an address", "user_id", token.UserID)
		return nil
	}
	if cred.Verified {
		return nil
	}
	cred.Verified = true
	return a.updateCredential(ctx, tx, cred)
}
