package storage

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	// Ensure SHA512 is linked for checksum verification.
	_ "crypto/sha512"
)

const (
	// DefaultFileMode is the mode of persisted files.
	DefaultFileMode os.FileMode = 0o644

	// checksumFunction verifies staged contents before they replace the target.
	checksumFunction crypto.Hash = crypto.SHA512
)

var (
	// ErrPersist is returned when a file cannot be written.
	ErrPersist = errors.New("persist file")
	// errHashUnavailable is returned when the checksum function is not linked in.
	errHashUnavailable = errors.New("hash function unavailable")
)

// WriteFile atomically replaces path with data. Missing targets are created.
func WriteFile(path string, data []byte, mode os.FileMode) error {
	path = filepath.Clean(path)

	checksum, err := Checksum(data)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrPersist, path, err)
	}

	if _, err = os.Stat(path); errors.Is(err, os.ErrNotExist) {
		var placeholder *os.File

		placeholder, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY, mode)
		if err != nil {
			return fmt.Errorf("%w %s: %w", ErrPersist, path, err)
		}

		if err = placeholder.Close(); err != nil {
			return fmt.Errorf("%w %s: %w", ErrPersist, path, err)
		}
	} else if err != nil {
		return fmt.Errorf("%w %s: %w", ErrPersist, path, err)
	}

	options := goupdate.Options{
		TargetPath: path,
		TargetMode: mode,
		Checksum:   checksum,
		Hash:       checksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("%w %s: %w", ErrPersist, path, err)
	}

	return nil
}

// Checksum returns the digest used to verify staged contents.
func Checksum(data []byte) ([]byte, error) {
	if !checksumFunction.Available() {
		return nil, errHashUnavailable
	}

	hasher := checksumFunction.New()
	if _, err := hasher.Write(data); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}
