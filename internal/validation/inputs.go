// Package validation provides input validation for upload requests.
package validation

import (
	"fmt"
	"os"
	"strings"
)

// ValidateUploadSource checks that a local path names a readable regular
// file. Directories, sockets and devices are rejected up front so a bad
// argument fails at enqueue time instead of surfacing later as a job failure.
func ValidateUploadSource(path string) error {
	if path == "" {
		return fmt.Errorf("upload path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("upload path contains null byte: %q", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory; uploads take individual files", path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

// ValidateAccountKey checks the shape of an account key before it is sent to
// the backend. Keys are opaque identifiers but never contain whitespace.
func ValidateAccountKey(key string) error {
	if key == "" {
		return fmt.Errorf("account key cannot be empty")
	}
	if strings.ContainsAny(key, " \t\n") {
		return fmt.Errorf("account key cannot contain whitespace: %q", key)
	}
	return nil
}
