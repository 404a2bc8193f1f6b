package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// ScratchStore manages session-keyed scratch directories for in-flight
// recordings and their derived artifacts. Drafts do not survive a server
// restart: Sweep removes everything under the root.
type ScratchStore struct {
	root string
}

// NewScratchStore creates the scratch root if needed.
func NewScratchStore(root string) (*ScratchStore, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "supasecret-scratch")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	return &ScratchStore{root: root}, nil
}

// Root returns the scratch root directory.
func (s *ScratchStore) Root() string {
	return s.root
}

// SessionDir creates (if needed) and returns the directory for a session.
func (s *ScratchStore) SessionDir(sessionID string) (string, error) {
	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session dir: %w", err)
	}
	return dir, nil
}

// Path returns the path for a named file inside a session's directory,
// creating the directory if needed.
func (s *ScratchStore) Path(sessionID, name string) (string, error) {
	dir, err := s.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Clear removes all artifacts for a session. Called on discard, retake and
// after a successful publish.
func (s *ScratchStore) Clear(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Join(s.root, sessionID)); err != nil {
		return fmt.Errorf("failed to clear session scratch: %w", err)
	}
	return nil
}

// Sweep removes leftover session directories from a previous run.
func (s *ScratchStore) Sweep() (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("failed to read scratch root: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}
