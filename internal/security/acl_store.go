package security

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/nfsd/nfsd/internal/logger"
)

// AclStore persists FileAcls keyed by canonical path in a Badger
// key-value database, per spec §4.6's "optional ACL store at a
// configured path" and §6's acl_store_path option.
//
// Grounded on the teacher's pkg/metadata store, which wraps Badger the
// same way (single DB, JSON-encoded values, explicit key namespace) for
// its own per-path metadata cache.
type AclStore struct {
	db *badger.DB
}

const aclKeyPrefix = "acl:"

// OpenAclStore opens (creating if absent) a Badger database rooted at
// dir to back an AclStore.
func OpenAclStore(dir string) (*AclStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogAdapter{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open acl store: %w", err)
	}
	return &AclStore{db: db}, nil
}

// Close releases the underlying Badger database.
func (s *AclStore) Close() error {
	return s.db.Close()
}

// Get returns the stored FileAcl for path, or ok=false if none is set.
func (s *AclStore) Get(path string) (*FileAcl, bool, error) {
	var fa FileAcl
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(aclKey(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &fa)
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("get acl for %q: %w", path, err)
	}
	if !found {
		return nil, false, nil
	}
	return &fa, true, nil
}

// Set stores (overwriting) the FileAcl for path.
func (s *AclStore) Set(path string, fa *FileAcl) error {
	data, err := json.Marshal(fa)
	if err != nil {
		return fmt.Errorf("marshal acl for %q: %w", path, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(aclKey(path), data)
	})
	if err != nil {
		return fmt.Errorf("set acl for %q: %w", path, err)
	}
	return nil
}

// Delete removes any stored FileAcl for path, e.g. after REMOVE.
func (s *AclStore) Delete(path string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(aclKey(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete acl for %q: %w", path, err)
	}
	return nil
}

// Rename moves a stored FileAcl from oldPath to newPath, if any exists.
func (s *AclStore) Rename(oldPath, newPath string) error {
	fa, ok, err := s.Get(oldPath)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.Set(newPath, fa); err != nil {
		return err
	}
	return s.Delete(oldPath)
}

func aclKey(path string) []byte {
	return []byte(aclKeyPrefix + path)
}

// badgerLogAdapter routes Badger's internal logging through the server's
// structured logger instead of Badger's default stderr writer.
type badgerLogAdapter struct{}

func (badgerLogAdapter) Errorf(format string, args ...interface{})   { logger.Errorf(format, args...) }
func (badgerLogAdapter) Warningf(format string, args ...interface{}) { logger.Warnf(format, args...) }
func (badgerLogAdapter) Infof(format string, args ...interface{})    { logger.Infof(format, args...) }
func (badgerLogAdapter) Debugf(format string, args ...interface{})   { logger.Debugf(format, args...) }
