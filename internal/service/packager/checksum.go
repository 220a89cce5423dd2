package packager

import (
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	// Register SHA-512 for ChecksumFunction.
	_ "crypto/sha512"
)

// ChecksumFunction is used to fingerprint archives.
const ChecksumFunction = crypto.SHA512

// errHashUnavailable is returned when ChecksumFunction is not linked into the binary.
var errHashUnavailable = errors.New("hash function unavailable")

// FileChecksum returns the ChecksumFunction digest of a file.
func FileChecksum(path string) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := ChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}
