package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "presence:"

// PresenceRepository keeps a Redis key per online user that expires unless
// refreshed by a heartbeat.
type PresenceRepository struct {
	client *redis.Client
}

// NewPresenceRepository constructs the repository.
func NewPresenceRepository(client *redis.Client) *PresenceRepository {
	return &PresenceRepository{client: client}
}

// Touch (re)sets the user's key with ttl.
func (r *PresenceRepository) Touch(ctx context.Context, userID string, at time.Time, ttl time.Duration) error {
	if err := r.client.Set(ctx, presenceKeyPrefix+userID, at.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("touch presence %s: %w", userID, err)
	}
	return nil
}

// Clear removes the user's key.
func (r *PresenceRepository) Clear(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, presenceKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("clear presence %s: %w", userID, err)
	}
	return nil
}

// Alive reports, for each id, whether its key still exists.
func (r *PresenceRepository) Alive(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.Exists(ctx, presenceKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("check presence keys: %w", err)
	}
	for i, id := range userIDs {
		out[id] = cmds[i].Val() > 0
	}
	return out, nil
}
