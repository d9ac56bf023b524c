package fs

import (
	"context"

	oa "github.com/panyam/authpwn"
)

func (s *FSStore) CreateUser(ctx context.Context, user *oa.User) error {
	return s.run(ctx, func(tx *FSStore) error {
		path := tx.path("users", user.ID)
		if found, err := tx.exists(path); err != nil {
			return err
		} else if found {
			return oa.ErrUniquenessViolation
		}
		if err := tx.claim("exuids", user.ExUID, user.ID); err != nil {
			return err
		}
		if err := tx.writeJSON(path, user); err != nil {
			return err
		}
		return tx.setIndex("exuids", user.ExUID, user.ID)
	})
}

func (s *FSStore) GetUserByID(ctx context.Context, userID string) (user *oa.User, err error) {
	err = s.run(ctx, func(tx *FSStore) error {
		user, err = tx.loadUser(userID)
		return err
	})
	return user, err
}

func (s *FSStore) loadUser(userID string) (*oa.User, error) {
	var user oa.User
	found, err := s.readJSON(s.path("users", userID), &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, oa.ErrNotFound
	}
	return &user, nil
}

func (s *FSStore) GetUserByExUID(ctx context.Context, exuid string) (user *oa.User, err error) {
	err = s.run(ctx, func(tx *FSStore) error {
		var entry indexEntry
		found, err := tx.readJSON(tx.path("exuids", exuid), &entry)
		if err != nil {
			return err
		}
		if !found {
			return oa.ErrNotFound
		}
		user, err = tx.loadUser(entry.ID)
		return err
	})
	return user, err
}

// DeleteUser removes the user, its exuid and all of its credentials
func (s *FSStore) DeleteUser(ctx context.Context, userID string) error {
	return s.run(ctx, func(tx *FSStore) error {
		user, err := tx.loadUser(userID)
		if err != nil {
			return err
		}
		ids, err := tx.readList("user_credentials", userID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := tx.deleteCredential(id); err != nil && err != oa.ErrNotFound {
				return err
			}
		}
		tx.clearIndex("exuids", user.ExUID)
		tx.remove(tx.path("users", userID))
		return nil
	})
}
