// Command authpwnctl administers an authpwn store from the shell.
//
//	authpwnctl create-user -email alice@example.com -password s3cret-pass
//	authpwnctl send-verification -email alice@example.com
//	authpwnctl verify-email -code <code>
//	authpwnctl link -kind facebook -token <access token>
//
// Storage and delivery are configured with AUTHPWN_* and SMTP_* environment
// variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/panyam/authpwn"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	auth := newAuth(cfg, store, logger)
	if err := run(ctx, auth, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

const usage = `usage: authpwnctl <command> [flags]

commands:
  migrate             create or update the schema
  create-user         create a user, optionally with -email and -password
  find-user           look a user up by -exuid or -email
  delete-user         delete a user and its credentials
  set-email           set a user's e-mail address
  set-password        set a user's password
  check-password      check a user's password
  send-verification   e-mail a verification link
  verify-email        redeem a verification code
  link                sign in with an external access token
  request-reset       e-mail a password reset link
  reset-password      redeem a reset code
  purge-tokens        delete expired tokens
`

func run(ctx context.Context, auth *authpwn.Auth, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return flag.ErrHelp
	}
	cmd, args := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(out)

	exuid := fs.String("exuid", "", "external user id")
	email := fs.String("email", "", "e-mail address")
	password := fs.String("password", "", "password")
	username := fs.String("username", "", "optional username")
	code := fs.String("code", "", "token code")
	kind := fs.String("kind", "facebook", "external identity kind")
	token := fs.String("token", "", "external access token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch cmd {
	case "migrate":
		// openStore already migrated
		return printJSON(out, map[string]string{"status": "ok"})

	case "create-user":
		var creds []*authpwn.Credential
		if *email != "" {
			creds = append(creds, &authpwn.Credential{Kind: authpwn.KindEmail, Name: *email})
		}
		if *password != "" {
			cred, err := auth.PasswordCredential(*username, *password)
			if err != nil {
				return err
			}
			creds = append(creds, cred)
		}
		user, err := auth.CreateUserWithCredentials(ctx, creds...)
		if err != nil {
			return err
		}
		return printUser(ctx, auth, out, user)

	case "find-user":
		user, err := findUser(ctx, auth, *exuid, *email)
		if err != nil {
			return err
		}
		return printUser(ctx, auth, out, user)

	case "delete-user":
		user, err := findUser(ctx, auth, *exuid, *email)
		if err != nil {
			return err
		}
		return auth.DeleteUser(ctx, user.ID)

	case "set-email":
		user, err := findUser(ctx, auth, *exuid, "")
		if err != nil {
			return err
		}
		if _, err := auth.SetEmail(ctx, user, *email); err != nil {
			return err
		}
		return printUser(ctx, auth, out, user)

	case "set-password":
		user, err := findUser(ctx, auth, *exuid, *email)
		if err != nil {
			return err
		}
		_, err = auth.SetPassword(ctx, user, *username, *password)
		return err

	case "check-password":
		user, err := findUser(ctx, auth, *exuid, *email)
		if err != nil {
			return err
		}
		ok, err := auth.CheckPassword(ctx, user, *password)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]bool{"match": ok})

	case "send-verification":
		cred, err := auth.FindCredential(ctx, authpwn.KindEmail, *email)
		if err != nil {
			return err
		}
		if cred == nil {
			return fmt.Errorf("no user has e-mail %q", *email)
		}
		t, err := auth.SendEmailVerification(ctx, cred)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"expires_at": t.ExpiresAt})

	case "verify-email":
		t, err := auth.VerifyEmail(ctx, *code)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"email": t.Fact, "spent_at": t.SpentAt})

	case "link":
		user, err := auth.ForExternalToken(ctx, authpwn.Kind(*kind), *token)
		if err != nil {
			return err
		}
		return printUser(ctx, auth, out, user)

	case "request-reset":
		_, err := auth.RequestPasswordReset(ctx, *email)
		return err

	case "reset-password":
		_, err := auth.ResetPassword(ctx, *code, *password)
		return err

	case "purge-tokens":
		n, err := auth.Tokens.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int64{"deleted": n})
	}

	fmt.Fprint(out, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func findUser(ctx context.Context, auth *authpwn.Auth, exuid, email string) (*authpwn.User, error) {
	var user *authpwn.User
	var err error
	switch {
	case exuid != "":
		user, err = auth.FindUserByExternalID(ctx, exuid)
	case email != "":
		user, err = auth.FindUserByEmail(ctx, email)
	default:
		return nil, errors.New("one of -exuid or -email is required")
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("user not found")
	}
	return user, nil
}

type userView struct {
	ExUID       string           `json:"exuid"`
	Credentials []credentialView `json:"credentials"`
}

type credentialView struct {
	Kind     authpwn.Kind `json:"kind"`
	Name     string       `json:"name,omitempty"`
	Verified bool         `json:"verified,omitempty"`
}

// printUser writes the user without credential secrets
func printUser(ctx context.Context, auth *authpwn.Auth, out io.Writer, user *authpwn.User) error {
	if err := auth.LoadCredentials(ctx, user); err != nil {
		return err
	}
	view := userView{ExUID: user.ExUID, Credentials: []credentialView{}}
	for _, c := range user.Credentials {
		view.Credentials = append(view.Credentials, credentialView{Kind: c.Kind, Name: c.Name, Verified: c.Verified})
	}
	return printJSON(out, view)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
