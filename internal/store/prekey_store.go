package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"proteus/internal/domain"
)

const preKeysFile = "prekeys.json"

// preKeyRecord is the on-disk shape of a single pre-key entry.
type preKeyRecord struct {
	ID      uint16               `json:"id"`
	Private domain.X25519Private `json:"priv"`
	Public  domain.X25519Public  `json:"pub"`
}

// FilePreKeyStore is a file-backed domain.PreKeyStore: one JSON file per
// directory, guarded by a mutex, written atomically.
type FilePreKeyStore struct {
	mu   sync.Mutex
	path string
}

var _ domain.PreKeyStore = (*FilePreKeyStore)(nil)

// NewFilePreKeyStore opens (without yet creating) a pre-key store rooted at
// dir.
func NewFilePreKeyStore(dir string) *FilePreKeyStore {
	return &FilePreKeyStore{path: filepath.Join(dir, preKeysFile)}
}

func (s *FilePreKeyStore) load() ([]preKeyRecord, error) {
	var records []preKeyRecord
	if _, err := readJSON(s.path, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// LoadPreKey returns the pre-key with the given id, or (nil, nil) if none
// exists.
func (s *FilePreKeyStore) LoadPreKey(ctx context.Context, id uint16) (*domain.PreKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("store: load pre-keys: %w", err)
	}
	for _, r := range records {
		if r.ID == id {
			return &domain.PreKey{ID: r.ID, Private: r.Private, Public: r.Public}, nil
		}
	}
	return nil, nil
}

// DeletePreKey removes the pre-key with the given id. Deleting an absent id
// is not an error.
func (s *FilePreKeyStore) DeletePreKey(ctx context.Context, id uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return fmt.Errorf("store: load pre-keys: %w", err)
	}
	out := records[:0]
	for _, r := range records {
		if r.ID != id {
			out = append(out, r)
		}
	}
	if err := writeJSON(s.path, out); err != nil {
		return fmt.Errorf("store: write pre-keys: %w", err)
	}
	return nil
}

// SavePreKeys appends a batch of freshly generated pre-keys (including, at
// most once, the MaxPreKeyID last-resort entry) to the store.
func (s *FilePreKeyStore) SavePreKeys(ctx context.Context, keys []domain.PreKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return fmt.Errorf("store: load pre-keys: %w", err)
	}
	for _, k := range keys {
		records = append(records, preKeyRecord{ID: k.ID, Private: k.Private, Public: k.Public})
	}
	if err := writeJSON(s.path, records); err != nil {
		return fmt.Errorf("store: write pre-keys: %w", err)
	}
	return nil
}

// Count returns the number of pre-keys currently stored, for diagnostics.
func (s *FilePreKeyStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(filepath.Dir(s.path)); os.IsNotExist(err) {
		return 0, nil
	}
	records, err := s.load()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
