package conversation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	stateDir  = ".marginalia"
	stateFile = "current_session"
)

// StateFilePath returns the path to the current-session state file,
// creating ~/.marginalia if needed.
func StateFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	dir := filepath.Join(homeDir, stateDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}

	return filepath.Join(dir, stateFile), nil
}

// withStateLock runs fn while holding an exclusive lock on the state
// file. Two CLI invocations racing on the same state file would
// otherwise interleave read-modify-write.
func withStateLock(path string, fn func() error) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking state file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// LoadCurrentSessionID reads the session the CLI is currently attached
// to. A missing or empty state file returns (nil, nil) — no current
// session is not an error.
func LoadCurrentSessionID() (*uuid.UUID, error) {
	path, err := StateFilePath()
	if err != nil {
		return nil, err
	}

	var id *uuid.UUID
	err = withStateLock(path, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("reading state file: %w", err)
		}

		raw := strings.TrimSpace(string(data))
		if raw == "" {
			return nil
		}

		parsed, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid session ID in state file: %w", err)
		}
		id = &parsed
		return nil
	})
	return id, err
}

// SaveCurrentSessionID records the session the CLI is attached to.
// The write is atomic: temp file then rename.
func SaveCurrentSessionID(sessionID uuid.UUID) error {
	path, err := StateFilePath()
	if err != nil {
		return err
	}

	return withStateLock(path, func() error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, []byte(sessionID.String()), 0o600); err != nil {
			return fmt.Errorf("writing state file: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("replacing state file: %w", err)
		}
		return nil
	})
}

// ClearCurrentSessionID removes the state file. Idempotent.
func ClearCurrentSessionID() error {
	path, err := StateFilePath()
	if err != nil {
		return err
	}

	return withStateLock(path, func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing state file: %w", err)
		}
		return nil
	})
}
