// Package prefs persists small client-side preferences: the display name and
// the participant identity assigned per session, so rejoining a session
// resumes the same participant instead of creating a new one.
//
// Everything here is best-effort. A missing or unreadable file degrades to
// empty preferences, never to an error the caller must handle fatally.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type data struct {
	DisplayName string            `json:"display_name,omitempty"`
	Identities  map[string]string `json:"identities,omitempty"` // session id -> user id
}

// Store is a file-backed preference store.
type Store struct {
	path string
	data data
}

// DefaultPath returns the preference file location under the user config
// directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "pokersync", "prefs.json"), nil
}

// Open loads the store at path, treating a missing or corrupt file as empty.
func Open(path string) *Store {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	if err == nil {
		// A corrupt file is discarded rather than surfaced.
		_ = json.Unmarshal(raw, &s.data)
	}
	if s.data.Identities == nil {
		s.data.Identities = make(map[string]string)
	}
	return s
}

// DisplayName returns the stored display name, or "".
func (s *Store) DisplayName() string { return s.data.DisplayName }

// SetDisplayName stores the display name and persists.
func (s *Store) SetDisplayName(name string) error {
	if name == "" {
		return nil
	}
	s.data.DisplayName = name
	return s.save()
}

// Identity returns the participant id previously assigned for the session,
// or "".
func (s *Store) Identity(sessionID string) string {
	return s.data.Identities[sessionID]
}

// SetIdentity records the participant id for a session and persists.
func (s *Store) SetIdentity(sessionID, userID string) error {
	s.data.Identities[sessionID] = userID
	return s.save()
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}
