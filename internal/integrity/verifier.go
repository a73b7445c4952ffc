// Package integrity verifies downloaded page images against the
// checksums carried by patch manifests.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// FileVerifier computes and compares file checksums
type FileVerifier struct{}

func NewFileVerifier() *FileVerifier {
	return &FileVerifier{}
}

// ChecksumSHA256 returns the hex-encoded SHA-256 digest of a file
func ChecksumSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify compares a file against an expected SHA-256 digest.
// An empty expected digest skips verification.
func (v *FileVerifier) Verify(path, expected string) error {
	if expected == "" {
		return nil
	}

	actual, err := ChecksumSHA256(path)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}
