package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const loginFailurePrefix = "login:fail:"

// LoginThrottle counts failed logins per email in a fixed window. Once an
// email reaches maxAttempts failures, further logins are refused until the
// window expires.
type LoginThrottle struct {
	client      *redis.Client
	maxAttempts int64
	window      time.Duration
}

func (c *Cache) LoginThrottle(maxAttempts int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{client: c.client, maxAttempts: int64(maxAttempts), window: window}
}

// Blocked reports whether email has used up its failed attempts.
func (t *LoginThrottle) Blocked(ctx context.Context, email string) (bool, error) {
	raw, err := t.client.Get(ctx, loginKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, err
	}
	return count >= t.maxAttempts, nil
}

// recordFailureScript increments the failure counter and makes sure it
// carries an expiry. A counter left without a TTL would block the email
// forever, so the expiry is also restored when PTTL reports none.
var recordFailureScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 or redis.call('PTTL', KEYS[1]) == -1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RecordFailure counts one failed login. The first failure starts the window.
func (t *LoginThrottle) RecordFailure(ctx context.Context, email string) error {
	return recordFailureScript.Run(ctx, t.client, []string{loginKey(email)}, t.window.Milliseconds()).Err()
}

// Reset clears the failure count after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, email string) error {
	return t.client.Del(ctx, loginKey(email)).Err()
}

// loginKey hashes the normalized email so raw addresses are not stored.
func loginKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return loginFailurePrefix + hex.EncodeToString(sum[:8])
}
