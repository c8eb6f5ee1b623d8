// Package passstate keeps cross-process pass state in Redis: the lease that
// makes a single simulator replica the writer for a tick, and the summary of
// the last finished pass.
package passstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/smukkama/campus-energy/internal/protocol"
)

const (
	leaseKey    = "campus_energy:pass_lease"
	lastPassKey = "campus_energy:last_pass"

	lastPassTTL = 7 * 24 * time.Hour
)

// releaseScript deletes the lease only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StateManager manages pass state in Redis
type StateManager struct {
	redis    *redis.Client
	leaseTTL time.Duration
}

// NewStateManager creates a new state manager. leaseTTL bounds how long a
// crashed holder can block other replicas.
func NewStateManager(redisClient *redis.Client, leaseTTL time.Duration) *StateManager {
	return &StateManager{redis: redisClient, leaseTTL: leaseTTL}
}

// AcquireLease takes the pass lease. ok is false when another holder owns it.
func (sm *StateManager) AcquireLease(ctx context.Context) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = sm.redis.SetNX(ctx, leaseKey, token, sm.leaseTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire pass lease: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLease drops the lease if token still owns it
func (sm *StateManager) ReleaseLease(ctx context.Context, token string) error {
	if err := releaseScript.Run(ctx, sm.redis, []string{leaseKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release pass lease: %w", err)
	}
	return nil
}

// PublishPass stores the summary as the last finished pass
func (sm *StateManager) PublishPass(ctx context.Context, event *protocol.PassEvent) error {
	data, err := protocol.EncodePassEvent(event)
	if err != nil {
		return fmt.Errorf("failed to marshal pass: %w", err)
	}

	if err := sm.redis.Set(ctx, lastPassKey, data, lastPassTTL).Err(); err != nil {
		return fmt.Errorf("failed to set last pass in Redis: %w", err)
	}
	return nil
}

// LastPass returns the last stored pass summary, or nil if none is stored
func (sm *StateManager) LastPass(ctx context.Context) (*protocol.PassEvent, error) {
	data, err := sm.redis.Get(ctx, lastPassKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last pass from Redis: %w", err)
	}

	event, err := protocol.DecodePassEvent(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal last pass: %w", err)
	}
	return event, nil
}
