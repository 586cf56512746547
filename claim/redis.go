// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package claim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a claim lives if its holder never releases
	// it.
	DefaultTTL = 2 * time.Minute

	// keyPrefix namespaces the claim keys.
	keyPrefix = "btcdeposit:claim:"

	// releaseTimeout bounds the release round trip.
	releaseTimeout = 5 * time.Second
)

// releaseScript deletes the claim only if it still carries our token, so an
// expired claim re-taken by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Claimer shared by every process connected to the same redis
// server.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// A compile-time assertion to ensure Redis satisfies the Claimer interface.
var _ Claimer = (*Redis)(nil)

// NewRedis returns a claimer on top of client. A non-positive ttl means
// DefaultTTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client: client,
		ttl:    ttl,
	}
}

// key returns the redis key of a request claim.
func key(requestID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, requestID)
}

// TryClaim sets the claim key if it does not exist yet.
func (r *Redis) TryClaim(ctx context.Context, requestID int64) (Release, bool,
	error) {

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key(requestID), token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim request %d: %w", requestID,
			err)
	}
	if !ok {
		log.Tracef("Request %d is claimed elsewhere", requestID)
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(
				context.Background(), releaseTimeout,
			)
			defer cancel()

			err := releaseScript.Run(
				ctx, r.client, []string{key(requestID)}, token,
			).Err()
			if err != nil {
				log.Warnf("Unable to release claim on request "+
					"%d: %v", requestID, err)
			}
		})
	}

	return release, true, nil
}
