// Package cache stores catalog responses for a bounded time.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// DefaultTTL is how long a cached response stays valid.
const DefaultTTL = time.Hour

// keyPrefix namespaces tandem entries in a shared Redis database.
const keyPrefix = "tandem:catalog:"

// Cache is a byte cache with per-entry expiry. Implementations never fail a
// lookup: errors count as misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Close() error
}

// Key derives a stable cache key from an endpoint and its parameters. The
// parameter order does not matter.
func Key(endpoint string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(endpoint)
	for _, k := range names {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	sum := md5.Sum([]byte(b.String()))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Nop is a cache that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Nop) Set(context.Context, string, []byte, time.Duration) {}
func (Nop) Delete(context.Context, string)                     {}
func (Nop) Close() error                                       { return nil }
