package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/panyam/authpwn"
	fsstore "github.com/panyam/authpwn/stores/fs"
)

type capturingSender struct {
	links []string
}

func (s *capturingSender) SendVerificationEmail(to, link string) error {
	s.links = append(s.links, link)
	return nil
}

func (s *capturingSender) SendPasswordResetEmail(to, link string) error {
	s.links = append(s.links, link)
	return nil
}

func (s *capturingSender) lastCode(t *testing.T) string {
	t.Helper()
	if len(s.links) == 0 {
		t.Fatal("no link was sent")
	}
	link := s.links[len(s.links)-1]
	return link[strings.Index(link, "token=")+len("token="):]
}

func newTestAuth(t *testing.T) (*authpwn.Auth, *capturingSender) {
	cfg := Config{Storage: "fs", DataDir: t.TempDir(), BaseURL: "http://localhost:8080"}
	store, closeStore, err := openStore(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	t.Cleanup(closeStore)
	if _, ok := store.(*fsstore.FSStore); !ok {
		t.Fatalf("expected fs store, got %T", store)
	}

	auth := newAuth(cfg, store, slog.Default())
	auth.Hasher = authpwn.BcryptHasher{Cost: 4}
	sender := &capturingSender{}
	auth.EmailSender = sender
	return auth, sender
}

func runCmd(t *testing.T, auth *authpwn.Auth, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(context.Background(), auth, args, &out); err != nil {
		t.Fatalf("run(%v) error = %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestCLIUserLifecycle(t *testing.T) {
	auth, sender := newTestAuth(t)

	var created userView
	out := runCmd(t, auth, "create-user", "-email", "Alice@Example.com", "-password", "correct-horse")
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("bad output %q: %v", out, err)
	}
	if created.ExUID == "" {
		t.Fatal("expected an exuid")
	}
	if len(created.Credentials) != 2 {
		t.Fatalf("expected email and password credentials, got %+v", created.Credentials)
	}

	runCmd(t, auth, "send-verification", "-email", "alice@example.com")
	runCmd(t, auth, "verify-email", "-code", sender.lastCode(t))

	var found userView
	out = runCmd(t, auth, "find-user", "-exuid", created.ExUID)
	if err := json.Unmarshal([]byte(out), &found); err != nil {
		t.Fatalf("bad output %q: %v", out, err)
	}
	for _, c := range found.Credentials {
		if c.Kind == authpwn.KindEmail && !c.Verified {
			t.Error("expected e-mail to be verified")
		}
	}

	out = runCmd(t, auth, "check-password", "-exuid", created.ExUID, "-password", "correct-horse")
	if !strings.Contains(out, `"match": true`) {
		t.Errorf("expected password to match, got %s", out)
	}

	runCmd(t, auth, "delete-user", "-exuid", created.ExUID)
	var buf bytes.Buffer
	if err := run(context.Background(), auth, []string{"find-user", "-exuid", created.ExUID}, &buf); err == nil {
		t.Error("expected deleted user to be gone")
	}
}

func TestCLICreateUserRejectsShortPassword(t *testing.T) {
	auth, _ := newTestAuth(t)
	var out bytes.Buffer
	err := run(context.Background(), auth, []string{"create-user", "-email", "bob@example.com", "-password", "short"}, &out)
	var verr *authpwn.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	user, err := auth.FindUserByEmail(context.Background(), "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if user != nil {
		t.Errorf("no user should be created, found %+v", user)
	}
}

func TestCLIUnknownCommand(t *testing.T) {
	auth, _ := newTestAuth(t)
	var out bytes.Buffer
	if err := run(context.Background(), auth, []string{"frobnicate"}, &out); err == nil {
		t.Error("expected error for unknown command")
	}
	if !strings.Contains(out.String(), "usage:") {
		t.Error("expected usage to be printed")
	}
}
