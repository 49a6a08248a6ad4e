package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// HashBytes returns the BLAKE3 hex digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return HashBytes(data), nil
}

// VerifyChecksum checks data against an expected digest. An empty expected
// digest always passes.
func VerifyChecksum(name string, data []byte, expected string) error {
	if expected == "" {
		return nil
	}
	if actual := HashBytes(data); actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: switchboard hash %s",
			filepath.Base(name), expected, actual, name)
	}
	return nil
}

// ReadFunctions reads the functions document and enforces the configured
// checksum pin.
func (f FunctionsConfig) ReadFunctions() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read functions document: %w", err)
	}
	if err := VerifyChecksum(f.Path, data, f.Checksum); err != nil {
		return nil, err
	}
	return data, nil
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
