package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"client-portal/internal/config"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis client with application-specific methods
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection to Redis
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key prefixes
const (
	FlowKeyPrefix   = "onboarding:flow:"
	FlowLockPrefix  = "onboarding:lock:"
	MagicLinkPrefix = "auth:magiclink:"
)

// SaveFlow stores an onboarding flow snapshot
func (c *Client) SaveFlow(ctx context.Context, flowID string, flow interface{}, ttl time.Duration) error {
	jsonData, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}
	return c.rdb.Set(ctx, FlowKeyPrefix+flowID, jsonData, ttl).Err()
}

// GetFlow loads a flow snapshot into dst. It reports false when the flow is unknown or expired.
func (c *Client) GetFlow(ctx context.Context, flowID string, dst interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, FlowKeyPrefix+flowID).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get flow: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	return true, nil
}

// DeleteFlow removes a flow snapshot
func (c *Client) DeleteFlow(ctx context.Context, flowID string) error {
	return c.rdb.Del(ctx, FlowKeyPrefix+flowID).Err()
}

// AcquireFlowLock takes the single in-flight submission lock for a flow
func (c *Client) AcquireFlowLock(ctx context.Context, flowID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, FlowLockPrefix+flowID, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire flow lock: %w", err)
	}
	return ok, nil
}

// ReleaseFlowLock drops the submission lock
func (c *Client) ReleaseFlowLock(ctx context.Context, flowID string) error {
	return c.rdb.Del(ctx, FlowLockPrefix+flowID).Err()
}

// MagicLinkData is the payload behind a one-time sign-in link
type MagicLinkData struct {
	Email      string    `json:"email"`
	Type       string    `json:"type"`
	Invitation string    `json:"invitation,omitempty"`
	FullName   string    `json:"full_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SaveMagicLink stores link data under the hash of its token
func (c *Client) SaveMagicLink(ctx context.Context, tokenHash string, data *MagicLinkData, ttl time.Duration) error {
	data.CreatedAt = time.Now()
	data.ExpiresAt = data.CreatedAt.Add(ttl)

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal magic link: %w", err)
	}
	return c.rdb.Set(ctx, MagicLinkPrefix+tokenHash, jsonData, ttl).Err()
}

// ConsumeMagicLink atomically reads and deletes link data. A second call for the same hash returns nil.
func (c *Client) ConsumeMagicLink(ctx context.Context, tokenHash string) (*MagicLinkData, error) {
	data, err := c.rdb.GetDel(ctx, MagicLinkPrefix+tokenHash).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found, expired or already used
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume magic link: %w", err)
	}

	var link MagicLinkData
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal magic link: %w", err)
	}
	return &link, nil
}

// CountFlows returns the number of live onboarding flows
func (c *Client) CountFlows(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, FlowKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan keys: %w", err)
		}
		count += len(batch)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}
