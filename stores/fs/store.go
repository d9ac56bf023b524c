package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	oa "github.com/panyam/authpwn"
)

// FSStore implements oa.Store using JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/              # one oa.User per file
//	├── exuids/             # exuid -> user id
//	├── credentials/        # one oa.Credential per file
//	├── unique_keys/        # credential unique key -> credential id
//	├── slot_keys/          # credential slot key -> credential id
//	├── names/              # (kind, name) -> credential ids
//	├── user_credentials/   # user id -> credential ids
//	├── tokens/             # (purpose, code) -> oa.Token
//	└── commit.log.json     # only present while a commit is in flight
//
// File names are SHA-256 hashes of the key, so untrusted keys never reach the
// path.
//
// # Concurrency Model
//
// Every operation runs under one store-wide mutex against a journal of
// pending writes. The journal is flushed with atomic file writes when the
// outermost operation succeeds and discarded when it fails, so checks and
// writes inside a Transaction see a consistent view and concurrent writers
// of the same unique key cannot both win. The journal is recorded in a
// commit log before it is flushed and replayed if a flush is interrupted. The lock is per FSStore value:
// two processes sharing a directory are not coordinated.
type FSStore struct {
	StoragePath string

	mu *sync.Mutex
	tx *journal
}

var _ oa.Store = (*FSStore)(nil)

// NewFSStore creates a new filesystem-backed Store
func NewFSStore(storagePath string) *FSStore {
	return &FSStore{StoragePath: storagePath, mu: &sync.Mutex{}}
}

// journal holds the files written by the current transaction. A nil value
// marks a deletion.
type journal struct {
	writes map[string][]byte
}

// commitLogName is written before a journal is applied and removed after.
// A log left behind by a crash or a failed write is replayed by the next
// operation, so a transaction reaches disk completely or not at all.
const commitLogName = "commit.log.json"

type commitEntry struct {
	Path   string `json:"path"`
	Data   []byte `json:"data,omitempty"`
	Delete bool   `json:"delete,omitempty"`
}

func (s *FSStore) commitLogPath() string {
	return filepath.Join(s.StoragePath, commitLogName)
}

func (s *FSStore) commit(j *journal) error {
	if len(j.writes) == 0 {
		return nil
	}
	entries, err := s.writeCommitLog(j)
	if err != nil {
		return err
	}
	return s.apply(entries)
}

func (s *FSStore) writeCommitLog(j *journal) ([]commitEntry, error) {
	entries := make([]commitEntry, 0, len(j.writes))
	for _, path := range slices.Sorted(maps.Keys(j.writes)) {
		rel, err := filepath.Rel(s.StoragePath, path)
		if err != nil {
			return nil, err
		}
		data := j.writes[path]
		entries = append(entries, commitEntry{Path: rel, Data: data, Delete: data == nil})
	}
	logData, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.StoragePath, 0755); err != nil {
		return nil, err
	}
	if err := writeAtomicFile(s.commitLogPath(), logData); err != nil {
		return nil, err
	}
	return entries, nil
}

// apply writes the entries of a commit log and then removes the log
func (s *FSStore) apply(entries []commitEntry) error {
	for _, e := range entries {
		path := filepath.Join(s.StoragePath, e.Path)
		if e.Delete {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := writeAtomicFile(path, e.Data); err != nil {
			return err
		}
	}
	if err := os.Remove(s.commitLogPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// replayCommitLog replays a commit log left by an interrupted commit
func (s *FSStore) replayCommitLog() error {
	data, err := os.ReadFile(s.commitLogPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var entries []commitEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("corrupt commit log: %w", err)
	}
	return s.apply(entries)
}

// run executes fn against a journaled view of the store. Nested calls share
// the outer journal; a failing nested call discards only its own writes.
func (s *FSStore) run(ctx context.Context, fn func(tx *FSStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.tx != nil {
		saved := maps.Clone(s.tx.writes)
		if err := fn(s); err != nil {
			s.tx.writes = saved
			return err
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.replayCommitLog(); err != nil {
		return fmt.Errorf("failed to replay commit log: %w", err)
	}
	tx := &FSStore{StoragePath: s.StoragePath, mu: s.mu, tx: &journal{writes: map[string][]byte{}}}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx.tx)
}

// Transaction runs fn with all of its reads and writes isolated under the
// store lock. Nothing reaches disk unless fn returns nil.
func (s *FSStore) Transaction(ctx context.Context, fn func(tx oa.Store) error) error {
	return s.run(ctx, func(tx *FSStore) error {
		return fn(tx)
	})
}

func (s *FSStore) path(dir, key string) string {
	return filepath.Join(s.StoragePath, dir, fileKey(key)+".json")
}

func (s *FSStore) read(path string) ([]byte, error) {
	if data, ok := s.tx.writes[path]; ok {
		if data == nil {
			return nil, os.ErrNotExist
		}
		return data, nil
	}
	return os.ReadFile(path)
}

// readJSON loads a record into v, reporting false if it does not exist
func (s *FSStore) readJSON(path string, v any) (bool, error) {
	data, err := s.read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FSStore) exists(path string) (bool, error) {
	_, err := s.read(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FSStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	s.tx.writes[path] = data
	return nil
}

func (s *FSStore) remove(path string) {
	s.tx.writes[path] = nil
}

// list returns the files of a directory as the transaction sees them
func (s *FSStore) list(dir string) ([]string, error) {
	dir = filepath.Join(s.StoragePath, dir)
	seen := map[string]bool{}
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		seen[filepath.Join(dir, entry.Name())] = true
	}
	for path, data := range s.tx.writes {
		if filepath.Dir(path) != dir {
			continue
		}
		seen[path] = data != nil
	}
	var paths []string
	for path, ok := range seen {
		if ok {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// indexEntry points a unique key at the record that owns it
type indexEntry struct {
	ID string `json:"id"`
}

// idList is an ordered multi-valued index
type idList struct {
	IDs []string `json:"ids"`
}

// claim checks that key in dir is free or already owned by id
func (s *FSStore) claim(dir, key, id string) error {
	if key == "" {
		return nil
	}
	var entry indexEntry
	found, err := s.readJSON(s.path(dir, key), &entry)
	if err != nil {
		return err
	}
	if found && entry.ID != id {
		return oa.ErrUniquenessViolation
	}
	return nil
}

func (s *FSStore) setIndex(dir, key, id string) error {
	if key == "" {
		return nil
	}
	return s.writeJSON(s.path(dir, key), indexEntry{ID: id})
}

func (s *FSStore) clearIndex(dir, key string) {
	if key != "" {
		s.remove(s.path(dir, key))
	}
}

func (s *FSStore) readList(dir, key string) ([]string, error) {
	var list idList
	if _, err := s.readJSON(s.path(dir, key), &list); err != nil {
		return nil, err
	}
	return list.IDs, nil
}

func (s *FSStore) addToList(dir, key, id string) error {
	ids, err := s.readList(dir, key)
	if err != nil {
		return err
	}
	if slices.Contains(ids, id) {
		return nil
	}
	return s.writeJSON(s.path(dir, key), idList{IDs: append(ids, id)})
}

func (s *FSStore) removeFromList(dir, key, id string) error {
	ids, err := s.readList(dir, key)
	if err != nil {
		return err
	}
	ids = slices.DeleteFunc(ids, func(v string) bool { return v == id })
	if len(ids) == 0 {
		s.remove(s.path(dir, key))
		return nil
	}
	return s.writeJSON(s.path(dir, key), idList{IDs: ids})
}
