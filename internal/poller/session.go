package poller

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateSession returns the session id stored at path, generating and
// persisting a new one the first time. An unreadable or malformed file is
// replaced. The id groups jobs by owner; it is not a credential.
func LoadOrCreateSession(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return uuid.NewString(), nil
	}
	// #nosec G304 -- path comes from operator configuration.
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id, perr := uuid.Parse(strings.TrimSpace(string(raw))); perr == nil {
			return id.String(), nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read session file: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write session file: %w", err)
	}
	return id, nil
}
