package authpwn_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/panyam/authpwn"
	fsstore "github.com/panyam/authpwn/stores/fs"
	gormstore "github.com/panyam/authpwn/stores/gorm"
)

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSender captures outgoing links instead of mailing them
type recordingSender struct {
	mu   sync.Mutex
	sent []sentEmail
}

type sentEmail struct {
	Kind string
	To   string
	Link string
}

func (s *recordingSender) SendVerificationEmail(to, link string) error {
	return s.record("verification", to, link)
}

func (s *recordingSender) SendPasswordResetEmail(to, link string) error {
	return s.record("reset", to, link)
}

func (s *recordingSender) record(kind, to, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentEmail{Kind: kind, To: to, Link: link})
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *recordingSender) last(t *testing.T) sentEmail {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("expected an email to be sent")
	}
	return s.sent[len(s.sent)-1]
}

// codeFromLink extracts the token query parameter
func codeFromLink(link string) string {
	_, code, _ := strings.Cut(link, "token=")
	return code
}

type testEnv struct {
	auth   *authpwn.Auth
	store  authpwn.Store
	clock  *fakeClock
	sender *recordingSender
}

func newFSStore(t *testing.T) authpwn.Store {
	return fsstore.NewFSStore(t.TempDir())
}

func newGormStore(t *testing.T) authpwn.Store {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// sqlite allows one writer; a single connection serializes transactions
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := gormstore.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	return gormstore.NewStore(db)
}

func newTestEnv(t *testing.T, store authpwn.Store) *testEnv {
	clock := newFakeClock()
	sender := &recordingSender{}
	auth := authpwn.NewAuth(store)
	auth.Clock = clock.Now
	auth.Hasher = authpwn.BcryptHasher{Cost: 4}
	auth.EmailSender = sender
	auth.BaseURL = "https://app.example.com"
	return &testEnv{auth: auth, store: store, clock: clock, sender: sender}
}

// forEachStore runs a scenario against every store implementation
func forEachStore(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	stores := []struct {
		name string
		open func(t *testing.T) authpwn.Store
	}{
		{"fs", newFSStore},
		{"gorm", newGormStore},
	}
	for _, s := range stores {
		t.Run(s.name, func(t *testing.T) {
			fn(t, newTestEnv(t, s.open(t)))
		})
	}
}

// createUserWithEmail is a shortcut for the common signup shape
func createUserWithEmail(t *testing.T, env *testEnv, email string) (*authpwn.User, *authpwn.Credential) {
	t.Helper()
	cred := &authpwn.Credential{Kind: authpwn.KindEmail, Name: email}
	user, err := env.auth.CreateUserWithCredentials(context.Background(), cred)
	if err != nil {
		t.Fatalf("CreateUserWithCredentials(%q) error = %v", email, err)
	}
	return user, cred
}
