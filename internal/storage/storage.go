// Package storage holds the blob stores that keep uploaded video bytes.
package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound indicates no blob exists under the requested key.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidKey rejects empty keys and keys escaping the store root.
	ErrInvalidKey = errors.New("invalid blob key")
)

// cleanKey normalises key to a relative slash-separated path.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
