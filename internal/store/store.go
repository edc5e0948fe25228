// Package store provides the byte-level record storage behind the limiter.
//
// A Backend persists opaque values under string keys. The limiter encodes
// its records as JSON and never relies on anything beyond Get/Set/Delete,
// so backends can be swapped without touching the window algorithm.
package store

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrNotFound is returned by Get when no value exists for a key.
var ErrNotFound = errors.New("record not found")

// Backend defines the storage operations the limiter needs.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value stored under key. Readers never observe a
	// partially written value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Cleanup removes values not written for longer than maxAge and
	// returns how many were removed.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	// Ping checks that the backend is usable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// maxKeyLength keeps sanitized keys well under common filename limits.
const maxKeyLength = 200

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9.\-_]`)

// SanitizeKey maps an arbitrary key to a filesystem-safe token: every
// character outside [A-Za-z0-9.-_] becomes '_'. Over-long keys are
// truncated and suffixed with a hash of the full key so they stay distinct.
func SanitizeKey(key string) string {
	safe := unsafeKeyChars.ReplaceAllString(key, "_")
	if safe == "" {
		return "_"
	}
	if len(safe) > maxKeyLength {
		sum := strconv.FormatUint(xxhash.Sum64String(key), 16)
		safe = safe[:maxKeyLength-len(sum)-1] + "_" + sum
	}
	return safe
}
