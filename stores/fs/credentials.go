package fs

import (
	"context"

	oa "github.com/panyam/authpwn"
)

func nameKey(kind oa.Kind, name string) string {
	return string(kind) + ":" + name
}

func (s *FSStore) loadCredential(id string) (*oa.Credential, error) {
	var cred oa.Credential
	found, err := s.readJSON(s.path("credentials", id), &cred)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, oa.ErrNotFound
	}
	return &cred, nil
}

// claimKeys checks that a credential's unique and slot keys are free or its own
func (s *FSStore) claimKeys(c *oa.Credential) error {
	if err := s.claim("unique_keys", c.UniqueKey, c.ID); err != nil {
		return err
	}
	return s.claim("slot_keys", c.SlotKey, c.ID)
}

func (s *FSStore) indexCredential(c *oa.Credential) error {
	if err := s.setIndex("unique_keys", c.UniqueKey, c.ID); err != nil {
		return err
	}
	if err := s.setIndex("slot_keys", c.SlotKey, c.ID); err != nil {
		return err
	}
	if err := s.addToList("names", nameKey(c.Kind, c.Name), c.ID); err != nil {
		return err
	}
	return s.addToList("user_credentials", c.UserID, c.ID)
}

func (s *FSStore) unindexCredential(c *oa.Credential) error {
	s.clearIndex("unique_keys", c.UniqueKey)
	s.clearIndex("slot_keys", c.SlotKey)
	if err := s.removeFromList("names", nameKey(c.Kind, c.Name), c.ID); err != nil {
		return err
	}
	return s.removeFromList("user_credentials", c.UserID, c.ID)
}

func (s *FSStore) CreateCredential(ctx context.Context, credential *oa.Credential) error {
	return s.run(ctx, func(tx *FSStore) error {
		path := tx.path("credentials", credential.ID)
		if found, err := tx.exists(path); err != nil {
			return err
		} else if found {
			return oa.ErrUniquenessViolation
		}
		if err := tx.claimKeys(credential); err != nil {
			return err
		}
		if err := tx.writeJSON(path, credential); err != nil {
			return err
		}
		return tx.indexCredential(credential)
	})
}

func (s *FSStore) UpdateCredential(ctx context.Context, credential *oa.Credential) error {
	return s.run(ctx, func(tx *FSStore) error {
		old, err := tx.loadCredential(credential.ID)
		if err != nil {
			return err
		}
		if err := tx.claimKeys(credential); err != nil {
			return err
		}
		if err := tx.unindexCredential(old); err != nil {
			return err
		}
		if err := tx.writeJSON(tx.path("credentials", credential.ID), credential); err != nil {
			return err
		}
		return tx.indexCredential(credential)
	})
}

func (s *FSStore) DeleteCredential(ctx context.Context, credentialID string) error {
	return s.run(ctx, func(tx *FSStore) error {
		return tx.deleteCredential(credentialID)
	})
}

func (s *FSStore) deleteCredential(id string) error {
	cred, err := s.loadCredential(id)
	if err != nil {
		return err
	}
	if err := s.unindexCredential(cred); err != nil {
		return err
	}
	s.remove(s.path("credentials", id))
	return nil
}

func (s *FSStore) GetCredentialByID(ctx context.Context, credentialID string) (cred *oa.Credential, err error) {
	err = s.run(ctx, func(tx *FSStore) error {
		cred, err = tx.loadCredential(credentialID)
		return err
	})
	return cred, err
}

// GetCredential returns the oldest credential with the kind and name
func (s *FSStore) GetCredential(ctx context.Context, kind oa.Kind, name string) (cred *oa.Credential, err error) {
	err = s.run(ctx, func(tx *FSStore) error {
		ids, err := tx.readList("names", nameKey(kind, name))
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return oa.ErrNotFound
		}
		cred, err = tx.loadCredential(ids[0])
		return err
	})
	return cred, err
}

func (s *FSStore) ListUserCredentials(ctx context.Context, userID string) (creds []*oa.Credential, err error) {
	creds = []*oa.Credential{}
	err = s.run(ctx, func(tx *FSStore) error {
		ids, err := tx.readList("user_credentials", userID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			cred, err := tx.loadCredential(id)
			if err == oa.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			creds = append(creds, cred)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return creds, nil
}
