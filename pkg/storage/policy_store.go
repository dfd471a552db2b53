// Package storage keeps versioned Rego module bundles for the authorization
// interceptor. Every distinct set of modules saved under a bundle id gets
// the next version; saving identical content again is a no-op.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested bundle or version does not exist in the store.
var ErrNotFound = errors.New("policy bundle not found")

// PolicyBundle is one version of a named set of Rego modules.
type PolicyBundle struct {
	ID      string
	Version int
	// Modules maps module names to Rego source.
	Modules map[string]string
	// Digest identifies the module content.
	Digest  string
	SavedAt time.Time
}

// PolicyStore exposes persistence operations for policy bundles.
type PolicyStore interface {
	// Save stores modules under id. It returns the stored bundle and
	// whether a new version was created.
	Save(ctx context.Context, id string, modules map[string]string) (*PolicyBundle, bool, error)
	Get(ctx context.Context, id string, version int) (*PolicyBundle, error)
	Latest(ctx context.Context, id string) (*PolicyBundle, error)
	Close() error
}

// Digest hashes module names and sources in name order.
func Digest(modules map[string]string) string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(modules[name]))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
