package fs

import (
	"context"
	"time"

	oa "github.com/panyam/authpwn"
)

func (s *FSStore) getTokenPath(purpose oa.Purpose, code string) string {
	return s.path("tokens", string(purpose)+":"+code)
}

func (s *FSStore) CreateToken(ctx context.Context, token *oa.Token) error {
	return s.run(ctx, func(tx *FSStore) error {
		path := tx.getTokenPath(token.Purpose, token.Code)
		if found, err := tx.exists(path); err != nil {
			return err
		} else if found {
			return oa.ErrUniquenessViolation
		}
		return tx.writeJSON(path, token)
	})
}

func (s *FSStore) GetToken(ctx context.Context, purpose oa.Purpose, code string) (token *oa.Token, err error) {
	err = s.run(ctx, func(tx *FSStore) error {
		token, err = tx.loadToken(tx.getTokenPath(purpose, code))
		return err
	})
	return token, err
}

func (s *FSStore) loadToken(path string) (*oa.Token, error) {
	var token oa.Token
	found, err := s.readJSON(path, &token)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, oa.ErrNotFound
	}
	return &token, nil
}

// MarkTokenSpent checks and sets spent_at under the store lock
func (s *FSStore) MarkTokenSpent(ctx context.Context, purpose oa.Purpose, code string, spentAt time.Time) error {
	return s.run(ctx, func(tx *FSStore) error {
		path := tx.getTokenPath(purpose, code)
		token, err := tx.loadToken(path)
		if err != nil {
			return err
		}
		if token.SpentAt != nil {
			return oa.ErrTokenAlreadySpent
		}
		token.SpentAt = &spentAt
		return tx.writeJSON(path, token)
	})
}

func (s *FSStore) DeleteExpiredTokens(ctx context.Context, before time.Time) (deleted int64, err error) {
	err = s.run(ctx, func(tx *FSStore) error {
		paths, err := tx.list("tokens")
		if err != nil {
			return err
		}
		for _, path := range paths {
			token, err := tx.loadToken(path)
			if err != nil {
				continue // Skip unreadable files
			}
			if !before.Before(token.ExpiresAt) {
				tx.remove(path)
				deleted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
