// Package artifact keeps a copy of the active generated source on disk so
// operators can read what is running. The loader never reads it back.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/switchboard/internal/synth"
)

const (
	SourceFile   = "handlers.go.txt"
	ManifestFile = "manifest.json"
)

// Manifest describes the artifact currently on disk.
type Manifest struct {
	Version    uint64    `json:"version"`
	Hash       string    `json:"hash"`
	Operations []string  `json:"operations"`
	WrittenAt  time.Time `json:"written_at"`
}

// FSStore writes artifacts under one directory.
type FSStore struct {
	dir string
	now func() time.Time
}

// NewFSStore creates a store rooted at dir. The directory is created on first write.
func NewFSStore(dir string) (*FSStore, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("artifact directory is empty")
	}
	return &FSStore{dir: filepath.Clean(trimmed), now: time.Now}, nil
}

// Dir returns the artifact directory.
func (s *FSStore) Dir() string { return s.dir }

// Write replaces the artifact with unit. The source is written before the
// manifest so a manifest never points at older source.
func (s *FSStore) Write(unit *synth.BuildUnit, version uint64) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	if err := s.writeAtomic(SourceFile, []byte(unit.Source)); err != nil {
		return err
	}

	ops := make([]string, 0, len(unit.Entries))
	for _, e := range unit.Entries {
		ops = append(ops, e.Name)
	}
	manifest, err := json.MarshalIndent(Manifest{
		Version:    version,
		Hash:       unit.Hash,
		Operations: ops,
		WrittenAt:  s.now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.writeAtomic(ManifestFile, manifest)
}

// Read returns the manifest on disk, or os.ErrNotExist when there is none.
func (s *FSStore) Read() (Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, ManifestFile))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Wipe removes every file this store writes. Missing files are not an error.
func (s *FSStore) Wipe() error {
	var errs []error
	for _, name := range []string{ManifestFile, SourceFile} {
		err := os.Remove(filepath.Join(s.dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *FSStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
