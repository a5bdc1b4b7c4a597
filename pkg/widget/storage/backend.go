// Package storage provides the key/value persistence the session store writes to.
// Every backend enforces a byte quota so that running out of space is an explicit,
// recoverable condition instead of a silent failure.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound      = errors.New("storage key not found")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

func checkKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}

// fits reports whether replacing a key of oldSize bytes with newSize bytes keeps the
// total within maxBytes. maxBytes <= 0 means unlimited.
func fits(maxBytes, used, oldSize, newSize int) bool {
	if maxBytes <= 0 {
		return true
	}
	return used-oldSize+newSize <= maxBytes
}
