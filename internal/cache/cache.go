// Package cache keeps synthesized NZB documents warm so repeated getnzb
// calls do not hit the database. Successful builds live for a day; failures
// are cached briefly as a sentinel to stop clients from thrashing the store.
package cache

import (
	"context"
	"time"
)

const (
	keyPrefix  = "nzb:"
	successTTL = 24 * time.Hour
	failureTTL = 5 * time.Minute

	// failSentinel marks a key whose NZB could not be built. NUL cannot
	// appear in real NZB XML, so the value is unambiguous.
	failSentinel = "\x00unavailable"
)

// NZBCache stores rendered NZB documents by dedupe key.
type NZBCache interface {
	// Get returns the cached document. failed reports a cached build
	// failure; ok reports any hit at all.
	Get(ctx context.Context, dedupeKey string) (xml []byte, failed bool, ok bool)
	// Put caches a successful build.
	Put(ctx context.Context, dedupeKey string, xml []byte)
	// PutFailure caches a build failure under the short sentinel TTL.
	PutFailure(ctx context.Context, dedupeKey string)
}
