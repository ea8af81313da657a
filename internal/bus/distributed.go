// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package bus

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedDebouncer extends ConsoleLogger's local, consecutive-repeat
// coalescing (see flushPendingLocked) to a window that spans every
// instrumented instance sharing one Redis — without it, the same request
// pattern hitting N instances behind a load balancer prints the same
// line N times instead of once. Grounded on the common go-redis
// SETNX-as-lock idiom: the first instance to claim a line's key within
// the window wins the print, every other claimant in that window is told
// to stay quiet.
type DistributedDebouncer struct {
	rdb    *redis.Client
	group  string
	window time.Duration
}

// NewDistributedDebouncer connects to addr. group namespaces the Redis
// keys (typically the service or deployment name) so unrelated
// applications sharing one Redis instance never coalesce each other's
// lines.
func NewDistributedDebouncer(addr, group string, window time.Duration) *DistributedDebouncer {
	return &DistributedDebouncer{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		group:  group,
		window: window,
	}
}

// Claim reports whether the caller is the first instance to print line
// within the debounce window. A false result with a nil error means
// another instance already printed it recently; the caller should
// suppress its own copy.
func (d *DistributedDebouncer) Claim(ctx context.Context, line string) (bool, error) {
	sum := sha1.Sum([]byte(line))
	key := fmt.Sprintf("apptrace:console:%s:%s", d.group, hex.EncodeToString(sum[:]))
	return d.rdb.SetNX(ctx, key, 1, d.window).Result()
}

// Close releases the underlying Redis connection pool.
func (d *DistributedDebouncer) Close() error {
	return d.rdb.Close()
}
