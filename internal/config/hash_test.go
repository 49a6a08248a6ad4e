package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHashBytesIsStable(t *testing.T) {
	a := HashBytes([]byte("functions"))
	b := HashBytes([]byte("functions"))
	if a != b {
		t.Fatalf("HashBytes not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("len(HashBytes) = %d, want 64", len(a))
	}
	if a == HashBytes([]byte("functions\n")) {
		t.Fatal("different content produced the same digest")
	}
}

func TestComputeBlake3Hash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functions.json")
	if err := os.WriteFile(path, []byte(`{"functions":[]}`), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() failed: %v", err)
	}
	if got != HashBytes([]byte(`{"functions":[]}`)) {
		t.Fatalf("file hash %s does not match content hash", got)
	}

	if _, err := ComputeBlake3Hash(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadFunctionsEnforcesChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functions.json")
	data := []byte(`{"functions":[]}`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	f := FunctionsConfig{Path: path}
	if _, err := f.ReadFunctions(); err != nil {
		t.Fatalf("unpinned read failed: %v", err)
	}

	f.Checksum = HashBytes(data)
	got, err := f.ReadFunctions()
	if err != nil {
		t.Fatalf("pinned read failed: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("ReadFunctions() = %q", got)
	}

	f.Checksum = HashBytes([]byte("other"))
	_, err = f.ReadFunctions()
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

func TestIsHexDigest(t *testing.T) {
	if !isHexDigest(HashBytes(nil)) {
		t.Error("digest rejected")
	}
	if isHexDigest("abc") {
		t.Error("short string accepted")
	}
	if isHexDigest(strings.Repeat("z", 64)) {
		t.Error("non-hex accepted")
	}
}
