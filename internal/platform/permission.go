// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wneessen/waybar-location/internal/location"
)

// PermissionStore persists the location authorization granted by the user in a single line
// text file. A missing file means the user was never asked.
type PermissionStore struct {
	path       string
	restricted bool
}

// NewPermissionStore returns a store for the file at path. If restricted is set, location use
// is disallowed by policy and Read always reports the restricted state.
func NewPermissionStore(path string, restricted bool) *PermissionStore {
	return &PermissionStore{path: path, restricted: restricted}
}

// Read returns the stored authorization state. Unreadable or unparsable content yields
// location.StateUnknown together with the cause.
func (s *PermissionStore) Read() (location.AuthorizationState, error) {
	if s.restricted {
		return location.StateRestricted, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return location.StateUndetermined, nil
		}
		return location.StateUnknown, fmt.Errorf("failed to read permission file %q: %w", s.path, err)
	}
	state, err := location.ParseAuthorizationState(string(data))
	if err != nil {
		return location.StateUnknown, fmt.Errorf("invalid content in permission file %q: %w", s.path, err)
	}
	return state, nil
}

// Write stores state, creating the parent directory if needed.
func (s *PermissionStore) Write(state location.AuthorizationState) error {
	if s.restricted {
		return errors.New("location use is restricted by configuration")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create permission directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(state.String()+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write permission file %q: %w", s.path, err)
	}
	return nil
}
