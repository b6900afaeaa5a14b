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

// Package inflight claims a report for processing using a Redis key with
// TTL, so two deliveries for the same report are not processed at once
// by different consumers.
package inflight

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed consumer can hold a claim.
	DefaultTTL = 10 * time.Minute

	keyPrefix = "adr:inflight:"
)

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Guard hands out per-report claims.
type Guard struct {
	rdb redisClient
	ttl time.Duration
}

// NewGuard creates a guard backed by Redis. A ttl of zero uses DefaultTTL.
func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	return newGuard(rdb, ttl)
}

func newGuard(rdb redisClient, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

// Claim is a held report claim.
type Claim struct {
	key   string
	token string
}

// Acquire claims reportID. It returns (nil, nil) when another consumer
// already holds the claim.
func (g *Guard) Acquire(ctx context.Context, reportID string) (*Claim, error) {
	c := &Claim{key: keyPrefix + reportID, token: uuid.NewString()}

	ok, err := g.rdb.SetNX(ctx, c.key, c.token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("inflight SETNX: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return c, nil
}

// Release drops the claim if it is still ours. Releasing a nil claim is a
// no-op.
func (g *Guard) Release(ctx context.Context, c *Claim) error {
	if c == nil {
		return nil
	}
	if err := g.rdb.Eval(ctx, releaseScript, []string{c.key}, c.token).Err(); err != nil {
		return fmt.Errorf("inflight release: %w", err)
	}
	return nil
}
