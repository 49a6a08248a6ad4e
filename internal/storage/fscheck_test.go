package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestRequireLocal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		fsType  string
		wantErr string
	}{
		{name: "local ext4 magic", fsType: "0xef53"},
		{name: "local apfs", fsType: "apfs"},
		{name: "nfs", fsType: "nfs", wantErr: `network filesystem "nfs"`},
		{name: "cifs", fsType: "cifs", wantErr: "state.path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dbPath := filepath.Join(t.TempDir(), "switchboard.db")
			err := requireLocal(dbPath, "state.path", func(string) (string, error) { return tc.fsType, nil })
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected %s to pass, got: %v", tc.fsType, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
			var remote *RemoteFSError
			if !errors.As(err, &remote) || remote.FSType != tc.fsType || remote.Path != dbPath {
				t.Fatalf("expected *RemoteFSError for %s, got %#v", tc.fsType, err)
			}
		})
	}
}

func TestRequireLocalInspectsExistingAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "state", "deep", "switchboard.db")

	var inspected string
	err := requireLocal(dbPath, "state.path", func(path string) (string, error) {
		inspected = path
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("requireLocal: %v", err)
	}
	if inspected != root {
		t.Fatalf("expected detector to inspect %q, got %q", root, inspected)
	}
}

func TestIsNetworkMount(t *testing.T) {
	t.Parallel()

	for fs, want := range map[string]bool{"NFS": true, " smb2 ": true, "webdav": true, "tmpfs": false} {
		if got := isNetworkMount(fs); got != want {
			t.Fatalf("isNetworkMount(%q)=%v, want %v", fs, got, want)
		}
	}
}

func TestRequireLocalEmptyPath(t *testing.T) {
	t.Parallel()

	err := RequireLocal("", "runtime.artifact_dir")
	if err == nil || !strings.Contains(err.Error(), "runtime.artifact_dir is empty") {
		t.Fatalf("expected empty path error, got %v", err)
	}
}
