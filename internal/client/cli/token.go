package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultTokenPath returns the token cache file under the user's home
// directory.
func defaultTokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".userdir", "token"), nil
}

// SaveToken writes the access token to path, creating parent directories as
// needed. The file is only readable by the owner.
func SaveToken(path string, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// LoadToken reads a previously saved access token. An empty string is
// returned if no token has been saved yet.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("loading token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RemoveToken deletes the cached token file if it exists.
func RemoveToken(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token: %w", err)
	}
	return nil
}
