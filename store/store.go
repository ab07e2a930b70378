// Package store resolves the on-disk layout under the per-user data root
// (spec §6: "${XDG_DATA_HOME:-$HOME/.local/share}/qemu-compose/") and
// provides directory helpers for images and instances. Grounded on the
// teacher's config/config.go path-builder-method pattern, applied to the
// XDG resolution the teacher left to cobra/viper defaults.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/OpenPeeDeeP/xdg"
)

const appName = "qemu-compose"

// Store is the Local Store: the root directory plus its two children,
// image/ and instance/.
type Store struct {
	dataDir string
}

// New resolves the data root via XDG_DATA_HOME (falling back to
// ~/.local/share per the xdg package's own default), ensuring it exists.
func New() (*Store, error) {
	dataDir := filepath.Join(xdg.DataHome(), appName)
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data root %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// NewAt builds a Store rooted at an explicit directory, bypassing XDG
// resolution — used by tests and by callers that want an isolated root.
func NewAt(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data root %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// DataDir is the root of the per-user data tree.
func (s *Store) DataDir() string { return s.dataDir }

// ImageRoot is "<data_dir>/image", created on first use.
func (s *Store) ImageRoot() (string, error) {
	path := filepath.Join(s.dataDir, "image")
	if err := os.MkdirAll(path, 0o750); err != nil {
		return "", fmt.Errorf("create image root %s: %w", path, err)
	}
	return path, nil
}

// ImageDir is "<image_root>/<imageID>".
func (s *Store) ImageDir(imageID string) (string, error) {
	root, err := s.ImageRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, imageID), nil
}

// InstanceRoot is "<data_dir>/instance", created on first use.
func (s *Store) InstanceRoot() (string, error) {
	path := filepath.Join(s.dataDir, "instance")
	if err := os.MkdirAll(path, 0o750); err != nil {
		return "", fmt.Errorf("create instance root %s: %w", path, err)
	}
	return path, nil
}

// InstanceDir is "<instance_root>/<vmid>"; it does not create the directory
// (instance.CreateAndLock owns that so it can fail with qerr.DirectoryCreate).
func (s *Store) InstanceDir(vmid string) (string, error) {
	root, err := s.InstanceRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, vmid), nil
}
