// Package presence tracks which users currently hold a live connection.
//
// Entries live in Redis under presence:user:{userId} with a TTL, so a process
// that dies without cleaning up stops advertising its users once the TTL runs
// out. Absence of a key means offline.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix prefixes every presence key.
	KeyPrefix = "presence:user:"

	// DefaultTTL bounds how long a crashed connection keeps looking online.
	DefaultTTL = 60 * time.Second
)

// Registry is the Redis-backed presence registry.
type Registry struct {
	rdb redis.Cmdable
}

// New returns a Registry on top of an existing Redis client.
func New(rdb redis.Cmdable) *Registry {
	return &Registry{rdb: rdb}
}

// Dial parses a redis:// URL, connects and pings the server.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func key(userID string) string {
	return KeyPrefix + userID
}

// SetOnline records userID as online through connectionToken until ttl from
// now. Calling it again refreshes the entry. A non-positive ttl means DefaultTTL.
func (r *Registry) SetOnline(ctx context.Context, userID, connectionToken string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := r.rdb.Set(ctx, key(userID), connectionToken, ttl).Err(); err != nil {
		return fmt.Errorf("set online %s: %w", userID, err)
	}
	return nil
}

// SetOffline removes userID's entry. Removing a missing entry is not an error.
func (r *Registry) SetOffline(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("set offline %s: %w", userID, err)
	}
	return nil
}

var refreshScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false or cur == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Refresh extends userID's entry if it still belongs to connectionToken, or
// recreates it if it has lapsed. It reports false, leaving the entry alone,
// when a different connection owns it.
func (r *Registry) Refresh(ctx context.Context, userID, connectionToken string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	n, err := refreshScript.Run(ctx, r.rdb, []string{key(userID)}, connectionToken, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", userID, err)
	}
	return n == 1, nil
}

// Release removes userID's entry only if it was written by connectionToken,
// so a connection that has been replaced cannot mark its successor offline.
func (r *Registry) Release(ctx context.Context, userID, connectionToken string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.rdb, []string{key(userID)}, connectionToken).Int()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", userID, err)
	}
	return n == 1, nil
}

// IsOnline reports whether an unexpired entry exists for userID.
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence of %s: %w", userID, err)
	}
	return n == 1, nil
}

// GetConnection returns the token stored for userID and whether one exists.
func (r *Registry) GetConnection(ctx context.Context, userID string) (string, bool, error) {
	token, err := r.rdb.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("connection of %s: %w", userID, err)
	}
	return token, true, nil
}

// Ping checks the backend.
func (r *Registry) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
