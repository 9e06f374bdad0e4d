// Package redis provides the hot-read cache for the Strata engine: the
// current difficulty, per-owner session lists, and live proposal tallies.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for cached engine state
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Difficulty

// SetDifficulty stores the current difficulty as a decimal base-unit string.
func (c *Client) SetDifficulty(ctx context.Context, difficulty string) error {
	if err := c.rdb.Set(ctx, "difficulty:current", difficulty, 0).Err(); err != nil {
		return fmt.Errorf("failed to set difficulty: %w", err)
	}
	return nil
}

// GetDifficulty retrieves the cached difficulty. Returns empty when unset.
func (c *Client) GetDifficulty(ctx context.Context) (string, error) {
	val, err := c.rdb.Get(ctx, "difficulty:current").Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to get difficulty: %w", err)
	}
	return val, nil
}

// Sessions

// SetSession caches one session snapshot with expiration.
func (c *Client) SetSession(ctx context.Context, sessionID uint64, data any, expiration time.Duration) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	key := fmt.Sprintf("session:%d", sessionID)
	if err := c.rdb.Set(ctx, key, jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}

	return nil
}

// GetSession retrieves a cached session snapshot
func (c *Client) GetSession(ctx context.Context, sessionID uint64, dest any) error {
	key := fmt.Sprintf("session:%d", sessionID)
	jsonData, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("session not cached")
		}
		return fmt.Errorf("failed to get session: %w", err)
	}

	if err := json.Unmarshal([]byte(jsonData), dest); err != nil {
		return fmt.Errorf("failed to unmarshal session data: %w", err)
	}

	return nil
}

// AddOwnerSession appends a session id to an owner's session set.
func (c *Client) AddOwnerSession(ctx context.Context, owner string, sessionID uint64) error {
	key := fmt.Sprintf("owner_sessions:%s", owner)
	if err := c.rdb.SAdd(ctx, key, sessionID).Err(); err != nil {
		return fmt.Errorf("failed to add owner session: %w", err)
	}
	return nil
}

// GetOwnerSessions retrieves the cached session ids for an owner.
func (c *Client) GetOwnerSessions(ctx context.Context, owner string) ([]string, error) {
	key := fmt.Sprintf("owner_sessions:%s", owner)
	ids, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get owner sessions: %w", err)
	}
	return ids, nil
}

// Proposals

// SetProposalTallies caches a proposal's current vote tallies.
func (c *Client) SetProposalTallies(ctx context.Context, proposalID uint64, forVotes, againstVotes, abstainVotes string) error {
	key := fmt.Sprintf("proposal_tallies:%d", proposalID)
	fields := map[string]any{
		"for":     forVotes,
		"against": againstVotes,
		"abstain": abstainVotes,
	}
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to set proposal tallies: %w", err)
	}
	return nil
}

// GetProposalTallies retrieves cached tallies, empty strings when absent.
func (c *Client) GetProposalTallies(ctx context.Context, proposalID uint64) (forVotes, againstVotes, abstainVotes string, err error) {
	key := fmt.Sprintf("proposal_tallies:%d", proposalID)
	vals, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return "", "", "", fmt.Errorf("failed to get proposal tallies: %w", err)
	}
	return vals["for"], vals["against"], vals["abstain"], nil
}

// SetProposalStatus caches a proposal's lifecycle status.
func (c *Client) SetProposalStatus(ctx context.Context, proposalID uint64, status string) error {
	key := fmt.Sprintf("proposal_status:%d", proposalID)
	if err := c.rdb.Set(ctx, key, status, 0).Err(); err != nil {
		return fmt.Errorf("failed to set proposal status: %w", err)
	}
	return nil
}

// Counters

// IncrementCounter increments a counter with expiration
func (c *Client) IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}
