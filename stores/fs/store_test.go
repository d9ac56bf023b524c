package fs

import (
	"context"
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	oa "github.com/panyam/authpwn"
)

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir() error = %v", err)
	}
	return n
}

func testUser(id string) *oa.User {
	now := time.Now().UTC()
	return &oa.User{ID: id, ExUID: "exuid" + id, CreatedAt: now, UpdatedAt: now}
}

func testCredential(id, userID, name string) *oa.Credential {
	return &oa.Credential{
		ID:        id,
		UserID:    userID,
		Kind:      oa.KindEmail,
		Name:      name,
		UniqueKey: "email:" + name,
		SlotKey:   "email:" + userID,
	}
}

func TestFSStore_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFSStore(dir)

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx oa.Store) error {
		if err := tx.CreateUser(ctx, testUser("u1")); err != nil {
			return err
		}
		if err := tx.CreateCredential(ctx, testCredential("c1", "u1", "a@example.com")); err != nil {
			return err
		}
		// Reads inside the transaction see its own writes
		if _, err := tx.GetCredential(ctx, oa.KindEmail, "a@example.com"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction() error = %v, want boom", err)
	}

	if n := countFiles(t, dir); n != 0 {
		t.Errorf("expected no files after rollback, found %d", n)
	}
	if _, err := store.GetUserByID(ctx, "u1"); !errors.Is(err, oa.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
}

func TestFSStore_NestedRollback(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())

	err := store.Transaction(ctx, func(tx oa.Store) error {
		if err := tx.CreateUser(ctx, testUser("u1")); err != nil {
			return err
		}
		nested := tx.Transaction(ctx, func(inner oa.Store) error {
			if err := inner.CreateCredential(ctx, testCredential("c1", "u1", "a@example.com")); err != nil {
				return err
			}
			return errors.New("abandon")
		})
		if nested == nil {
			t.Error("expected nested transaction to fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}

	if _, err := store.GetUserByID(ctx, "u1"); err != nil {
		t.Errorf("outer write should commit: %v", err)
	}
	if _, err := store.GetCredential(ctx, oa.KindEmail, "a@example.com"); !errors.Is(err, oa.ErrNotFound) {
		t.Errorf("nested write should be discarded, got %v", err)
	}
}

func TestFSStore_CredentialIndexes(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())
	for _, id := range []string{"u1", "u2"} {
		if err := store.CreateUser(ctx, testUser(id)); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", id, err)
		}
	}

	if err := store.CreateCredential(ctx, testCredential("c1", "u1", "a@example.com")); err != nil {
		t.Fatalf("CreateCredential() error = %v", err)
	}

	// Same unique key
	if err := store.CreateCredential(ctx, testCredential("c2", "u2", "a@example.com")); !errors.Is(err, oa.ErrUniquenessViolation) {
		t.Errorf("expected unique key violation, got %v", err)
	}
	// Same slot
	if err := store.CreateCredential(ctx, testCredential("c3", "u1", "b@example.com")); !errors.Is(err, oa.ErrUniquenessViolation) {
		t.Errorf("expected slot violation, got %v", err)
	}
	// Empty keys are unconstrained
	for _, id := range []string{"p1", "p2"} {
		free := &oa.Credential{ID: id, UserID: "u2", Kind: oa.KindPassword, Key: "hash"}
		if err := store.CreateCredential(ctx, free); err != nil {
			t.Errorf("CreateCredential(%s) error = %v", id, err)
		}
	}

	creds, err := store.ListUserCredentials(ctx, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(creds) != 2 {
		t.Errorf("expected 2 credentials for u2, got %d", len(creds))
	}
}

func TestFSStore_UpdateMovesIndexes(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())
	if err := store.CreateUser(ctx, testUser("u1")); err != nil {
		t.Fatal(err)
	}
	cred := testCredential("c1", "u1", "old@example.com")
	if err := store.CreateCredential(ctx, cred); err != nil {
		t.Fatal(err)
	}

	renamed := testCredential("c1", "u1", "new@example.com")
	if err := store.UpdateCredential(ctx, renamed); err != nil {
		t.Fatalf("UpdateCredential() error = %v", err)
	}

	if _, err := store.GetCredential(ctx, oa.KindEmail, "old@example.com"); !errors.Is(err, oa.ErrNotFound) {
		t.Errorf("old name should be unindexed, got %v", err)
	}
	got, err := store.GetCredential(ctx, oa.KindEmail, "new@example.com")
	if err != nil || got.ID != "c1" {
		t.Errorf("GetCredential(new) = %+v, %v", got, err)
	}

	if byID, err := store.GetCredentialByID(ctx, "c1"); err != nil || byID.Name != "new@example.com" {
		t.Errorf("GetCredentialByID() = %+v, %v", byID, err)
	}
	if _, err := store.GetCredentialByID(ctx, "missing"); !errors.Is(err, oa.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// The old unique key is free for someone else
	if err := store.CreateUser(ctx, testUser("u2")); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateCredential(ctx, testCredential("c2", "u2", "old@example.com")); err != nil {
		t.Errorf("old unique key should be free, got %v", err)
	}

	if err := store.UpdateCredential(ctx, testCredential("missing", "u1", "x@example.com")); !errors.Is(err, oa.ErrNotFound) {
		t.Errorf("expected ErrNotFound updating a missing credential, got %v", err)
	}
}

func TestFSStore_DeleteUser(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFSStore(dir)
	if err := store.CreateUser(ctx, testUser("u1")); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateCredential(ctx, testCredential("c1", "u1", "a@example.com")); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Errorf("expected every file to be removed, found %d", n)
	}
	if err := store.DeleteUser(ctx, "u1"); !errors.Is(err, oa.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStore_Tokens(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())
	now := time.Now().UTC()

	token := &oa.Token{ID: "t1", Purpose: oa.PurposePasswordReset, Code: "abc", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.CreateToken(ctx, token); err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if err := store.CreateToken(ctx, token); !errors.Is(err, oa.ErrUniquenessViolation) {
		t.Errorf("expected duplicate code to fail, got %v", err)
	}

	if err := store.MarkTokenSpent(ctx, token.Purpose, token.Code, now); err != nil {
		t.Fatalf("MarkTokenSpent() error = %v", err)
	}
	if err := store.MarkTokenSpent(ctx, token.Purpose, token.Code, now); !errors.Is(err, oa.ErrTokenAlreadySpent) {
		t.Errorf("expected ErrTokenAlreadySpent, got %v", err)
	}
	if err := store.MarkTokenSpent(ctx, token.Purpose, "nope", now); !errors.Is(err, oa.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, err := store.GetToken(ctx, token.Purpose, token.Code)
	if err != nil {
		t.Fatal(err)
	}
	if got.SpentAt == nil {
		t.Error("expected SpentAt to be set")
	}

	n, err := store.DeleteExpiredTokens(ctx, now.Add(time.Hour))
	if err != nil || n != 1 {
		t.Errorf("DeleteExpiredTokens() = %d, %v", n, err)
	}
}

func TestFSStore_UntrustedKeys(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())

	for _, key := range []string{"../../etc/passwd", "a/b", ""} {
		if _, err := store.GetUserByExUID(ctx, key); !errors.Is(err, oa.ErrNotFound) {
			t.Errorf("GetUserByExUID(%q) error = %v", key, err)
		}
	}
	if p := store.path("users", "../../etc/passwd"); filepath.Dir(p) != filepath.Join(store.StoragePath, "users") {
		t.Errorf("path escaped its directory: %s", p)
	}
}

func TestFSStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := NewFSStore(dir).CreateUser(ctx, testUser("u1")); err != nil {
		t.Fatal(err)
	}

	reopened := NewFSStore(dir)
	user, err := reopened.GetUserByExUID(ctx, "exuidu1")
	if err != nil {
		t.Fatalf("GetUserByExUID() error = %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("user.ID = %q", user.ID)
	}
}

func TestFSStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewFSStore(t.TempDir())
	if err := store.CreateUser(ctx, testUser("u1")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFSStore_InterruptedCommitIsReplayed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFSStore(dir)

	// Stage a transaction and stop right after its commit log is written
	tx := &FSStore{StoragePath: dir, mu: store.mu, tx: &journal{writes: map[string][]byte{}}}
	if err := tx.CreateUser(ctx, testUser("u1")); err != nil {
		t.Fatal(err)
	}
	if err := tx.CreateCredential(ctx, testCredential("c1", "u1", "a@example.com")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.writeCommitLog(tx.tx); err != nil {
		t.Fatalf("writeCommitLog() error = %v", err)
	}
	if n := countFiles(t, dir); n != 1 {
		t.Fatalf("expected only the commit log on disk, found %d files", n)
	}

	reopened := NewFSStore(dir)
	if _, err := reopened.GetUserByID(ctx, "u1"); err != nil {
		t.Errorf("GetUserByID() after replay error = %v", err)
	}
	if _, err := reopened.GetCredential(ctx, oa.KindEmail, "a@example.com"); err != nil {
		t.Errorf("GetCredential() after replay error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, commitLogName)); !os.IsNotExist(err) {
		t.Errorf("commit log should be removed after replay, stat error = %v", err)
	}
}

func TestFSStore_CorruptCommitLog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, commitLogName), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFSStore(dir).GetUserByID(ctx, "u1"); err == nil || errors.Is(err, oa.ErrNotFound) {
		t.Errorf("expected a replay error, got %v", err)
	}
}
