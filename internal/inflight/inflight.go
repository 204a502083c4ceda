// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package inflight rejects concurrent searches and bundles for the same
// mailbox credential using a Redis key with TTL. Nothing about the request
// itself is stored; the key only holds a random lease token.
package inflight

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed request can block its credential.
	DefaultTTL = 10 * time.Minute

	// keyPrefix namespaces guard keys in Redis.
	keyPrefix = "taxreport:inflight:"
)

// ErrBusy is returned by Acquire when another request holds the credential.
var ErrBusy = errors.New("another request for this mailbox is in progress")

// releaseScript deletes the key only while it still holds our token, so an
// expired lease cannot remove a newer one.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Guard hands out one lease per credential. A nil *Guard allows everything.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGuard creates a guard backed by Redis. ttl <= 0 uses DefaultTTL.
func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		rdb: rdb,
		ttl: ttl,
	}
}

// Lease is held while a request runs. Release it when done.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire takes the lease for credential, or returns ErrBusy.
func (g *Guard) Acquire(ctx context.Context, credential string) (*Lease, error) {
	if g == nil || g.rdb == nil {
		return &Lease{}, nil
	}

	key := Key(credential)
	token := uuid.NewString()

	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("inflight SETNX: %w", err)
	}
	if !set {
		return nil, ErrBusy
	}

	return &Lease{rdb: g.rdb, key: key, token: token}, nil
}

// Release frees the lease. Releasing twice, or after the TTL expired, is a
// no-op.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("inflight release: %w", err)
	}
	return nil
}

// Key is the Redis key for a credential. The credential is hashed so that
// tokens never reach Redis.
func Key(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return keyPrefix + hex.EncodeToString(sum[:16])
}
