// Package keystore persists key shares per signature scheme.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/davidlazar/go-crypto/encoding/base32"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	flatfs "github.com/ipfs/go-ds-flatfs"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/f3rmion/multisig/keygen"
	"github.com/f3rmion/multisig/scheme"
)

var (
	ErrNoSecretShare = errors.New("keystore: key has no secret share")
	ErrKeyNotFound   = errors.New("keystore: key not found")
)

// Store holds KeygenResultInfo records in a datastore, one entry per
// scheme and key id.
type Store struct {
	ds     datastore.Batching
	logger *zap.Logger
	mu     sync.Mutex
}

func New(ds datastore.Batching, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{ds: ds, logger: logger}
}

// NewInMemory returns a store backed by a thread-safe map datastore.
func NewInMemory(logger *zap.Logger) *Store {
	return New(dssync.MutexWrap(datastore.NewMapDatastore()), logger)
}

// OpenFlatfs opens or creates an on-disk store at path.
func OpenFlatfs(path string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	fs, err := flatfs.CreateOrOpen(path, flatfs.NextToLast(2), false)
	if err != nil {
		return nil, fmt.Errorf("keystore: opening %s: %w", path, err)
	}
	return New(fs, logger), nil
}

// makeKey encodes the scheme and key id into a flatfs compatible key.
func makeKey(id scheme.ID, keyID string) datastore.Key {
	name := base32.EncodeToString([]byte(string(id) + "-" + keyID))
	return datastore.NewKey(strings.ToUpper(name))
}

func parseKey(k datastore.Key) (scheme.ID, string, error) {
	raw, err := base32.DecodeString(strings.ToLower(k.BaseNamespace()))
	if err != nil {
		return "", "", err
	}
	id, keyID, ok := strings.Cut(string(raw), "-")
	if !ok {
		return "", "", fmt.Errorf("keystore: malformed entry %s", k)
	}
	return scheme.ID(id), keyID, nil
}

// SaveKey persists info under keyID, replacing any earlier record.
func (s *Store) SaveKey(ctx context.Context, keyID KeyID, info *keygen.KeygenResultInfo) error {
	if info.Key.SecretShare() == nil {
		return ErrNoSecretShare
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ds.Put(ctx, makeKey(info.Scheme, keyID.String()), info.Bytes()); err != nil {
		return fmt.Errorf("keystore: saving %s: %w", keyID, err)
	}
	if err := s.ds.Sync(ctx, datastore.NewKey("/")); err != nil {
		return fmt.Errorf("keystore: syncing %s: %w", keyID, err)
	}
	s.logger.Info("saved key", zap.String("scheme", string(info.Scheme)), zap.Stringer("key_id", keyID))
	return nil
}

// LoadKey reads a single key.
func (s *Store) LoadKey(ctx context.Context, id scheme.ID, keyID KeyID) (*keygen.KeygenResultInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.ds.Get(ctx, makeKey(id, keyID.String()))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	if err != nil {
		return nil, err
	}
	return keygen.DecodeKeygenResultInfo(b)
}

// LoadKeys returns every key stored for scheme id, keyed by the string
// form of its KeyID. Entries that cannot be decoded are skipped and
// reported in the returned error alongside the keys that did load.
func (s *Store) LoadKeys(ctx context.Context, id scheme.ID) (map[string]*keygen.KeygenResultInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.ds.Query(ctx, query.Query{})
	if err != nil {
		return nil, err
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, err
	}

	keys := make(map[string]*keygen.KeygenResultInfo)
	var errs error
	for _, e := range entries {
		entryScheme, keyID, err := parseKey(datastore.NewKey(e.Key))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("keystore: entry %s: %w", e.Key, err))
			continue
		}
		if entryScheme != id {
			continue
		}
		info, err := keygen.DecodeKeygenResultInfo(e.Value)
		if err == nil && info.Scheme != id {
			err = fmt.Errorf("stored under %s but encodes a %s key", id, info.Scheme)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("keystore: key %s: %w", keyID, err))
			continue
		}
		keys[keyID] = info
	}
	if errs != nil {
		s.logger.Warn("some keys failed to load", zap.String("scheme", string(id)), zap.Int("loaded", len(keys)), zap.Error(errs))
	}
	return keys, errs
}

func (s *Store) Close() error {
	return s.ds.Close()
}
