package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RemoteFSError reports a path that lives on a network filesystem. SQLite
// locking and the PID lock are both unreliable there.
type RemoteFSError struct {
	Path   string
	FSType string
	// Setting is the config key that chose Path.
	Setting string
}

func (e *RemoteFSError) Error() string {
	return fmt.Sprintf("%s %q is on network filesystem %q; set it to a local path", e.Setting, e.Path, e.FSType)
}

// RequireLocal returns a *RemoteFSError when path, or its nearest existing
// ancestor, is on a network mount. setting names the config key in the error.
func RequireLocal(path, setting string) error {
	return requireLocal(path, setting, filesystemType)
}

func requireLocal(path, setting string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s is empty", setting)
	}

	probe, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve %s %q: %w", setting, path, err)
	}

	fsType, err := detect(probe)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", probe, err)
	}
	if isNetworkMount(fsType) {
		return &RemoteFSError{Path: path, FSType: fsType, Setting: setting}
	}
	return nil
}

// existingAncestor walks up from path to the first entry that exists.
func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for candidate := abs; ; {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		candidate = parent
	}
}

func isNetworkMount(fsType string) bool {
	switch strings.ToLower(strings.TrimSpace(fsType)) {
	case "afpfs", "cifs", "nfs", "smbfs", "smb2", "webdav":
		return true
	}
	return false
}
