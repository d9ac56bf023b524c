// Package authpwn provides the credential and one-time token core of an
// authentication system.
//
// authpwn models identity as users that own typed credentials, and as tokens
// that grant a single action to a user for a limited time.
//
// # Architecture
//
// User: A unique account in your system. Users have an internal ID and an
// exuid, a random public identifier that is safe to hand to clients and to
// accept back from untrusted input.
//
// Credential: A typed proof of identity owned by one user. The Kind field
// selects a KindPolicy that normalizes and validates the credential and says
// where its name must be unique (across the system, within a user, or not at
// all) and whether a user may hold more than one. Built-in kinds cover
// passwords, e-mail addresses and Facebook, Google and GitHub accounts.
//
// Token: A random code issued to a user for a purpose, carrying the fact it
// vouches for (for example the e-mail address a verification link was sent
// to). Spending a token marks it spent and applies its purpose's side effect
// in one transaction, so a token is spent at most once even when redeemed
// concurrently.
//
// # Basic Usage
//
// Open a store and create an Auth:
//
//	import (
//	    "github.com/panyam/authpwn"
//	    fsstore "github.com/panyam/authpwn/stores/fs"
//	)
//
//	auth := authpwn.NewAuth(fsstore.NewFSStore("/path/to/storage"))
//	auth.EmailSender = &authpwn.ConsoleEmailSender{}
//	auth.BaseURL = "https://yourapp.com"
//
// Sign a user up and send a verification link:
//
//	email := &authpwn.Credential{Kind: authpwn.KindEmail, Name: "alice@example.com"}
//	user, err := auth.CreateUserWithCredentials(ctx, email)
//	...
//	_, err = auth.SetPassword(ctx, user, "", "correct-horse")
//	_, err = auth.SendEmailVerification(ctx, email)
//
// Redeem the code from the link:
//
//	token, err := auth.VerifyEmail(ctx, code)
//	if errors.Is(err, authpwn.ErrInvalidToken) {
//	    // expired, already used or unknown
//	}
//
// Sign in with an external access token:
//
//	auth.Providers[authpwn.KindFacebook] = oauth2.NewFacebookResolver()
//	user, err := auth.ForExternalToken(ctx, authpwn.KindFacebook, accessToken)
//
// # Store Implementations
//
// stores/gorm backs production deployments with PostgreSQL or SQLite.
// stores/gae uses Google Cloud Datastore. stores/fs keeps JSON files on disk
// and suits development and single-process tools.
//
// # Security
//
// Passwords are hashed through the PasswordHasher interface, with bcrypt by
// default and argon2id available as Argon2Hasher.
// Token codes are 32 random bytes, hex-encoded to 64 characters. Verification
// tokens expire after 24 hours and reset tokens after 1 hour. A reset token is
// refused once the address it was sent to no longer belongs to the user.
package authpwn
