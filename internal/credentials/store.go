// Package credentials persists OAuth token material per provider.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"calsync/internal/models"

	"github.com/adrg/xdg"
	"github.com/goccy/go-json"
)

// ErrNotFound is returned when no credential is stored for a provider.
var ErrNotFound = errors.New("credential not found")

// Store is the persistence contract used by the OAuth controller.
type Store interface {
	Load(ctx context.Context, provider models.Provider) (*models.Credential, error)
	Save(ctx context.Context, cred *models.Credential) error
	Delete(ctx context.Context, provider models.Provider) error
}

// DefaultDir returns the XDG data directory used for credentials.
func DefaultDir() string {
	return filepath.Join(xdg.DataHome, "calsync")
}

// FileStore keeps one token-<provider>.json file per provider.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, or DefaultDir when dir is empty.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultDir()
	}
	return &FileStore{dir: dir}
}

// Path returns the file that holds the provider's credential.
func (s *FileStore) Path(provider models.Provider) string {
	return filepath.Join(s.dir, fmt.Sprintf("token-%s.json", provider))
}

// Load reads the provider's credential.
func (s *FileStore) Load(_ context.Context, provider models.Provider) (*models.Credential, error) {
	f, err := os.Open(s.Path(provider))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var cred models.Credential
	if err := json.NewDecoder(f).Decode(&cred); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	cred.Provider = provider
	return &cred, nil
}

// Save writes the credential with owner-only permissions. The file is
// replaced atomically so a crash never leaves half a token behind.
func (s *FileStore) Save(_ context.Context, cred *models.Credential) error {
	if cred == nil || cred.Provider == "" {
		return errors.New("credential must name a provider")
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".token-*")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict token file: %w", err)
	}
	if err := json.NewEncoder(tmp).Encode(cred); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(cred.Provider)); err != nil {
		return fmt.Errorf("failed to store token file: %w", err)
	}
	return nil
}

// Delete removes the provider's credential. Deleting a missing credential is
// not an error.
func (s *FileStore) Delete(_ context.Context, provider models.Provider) error {
	if err := os.Remove(s.Path(provider)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}
