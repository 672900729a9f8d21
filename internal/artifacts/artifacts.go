// Package artifacts writes run outputs such as screenshots to a directory.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// Store writes named files under a single directory.
type Store struct {
	dir string
}

// New expands a leading ~ in dir and creates it if needed.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("artifact directory cannot be empty")
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand artifact directory %q: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", expanded, err)
	}
	return &Store{dir: expanded}, nil
}

// Dir returns the expanded directory.
func (s *Store) Dir() string { return s.dir }

// Write creates or overwrites name inside the directory and returns its path.
func (s *Store) Write(name string, data []byte) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return path, nil
}
