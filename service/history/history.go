// Package history looks up account reputation records. Records are
// written by out-of-band intel ingestion; the scan path only reads.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "account_rep:"

// Reputation is what is known about an account address.
type Reputation struct {
	Address   string    `json:"address"`
	Flagged   bool      `json:"flagged"`
	RiskScore float64   `json:"risk_score"`
	Label     string    `json:"label,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisHistory serves account reputation from Redis. Lookup misses
// return (nil, nil); only transport failures surface as errors.
type RedisHistory struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates a Redis-backed history service.
func New(rdb *redis.Client, logger *slog.Logger) *RedisHistory {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisHistory{rdb: rdb, logger: logger}
}

// Lookup returns the reputation record for address, or nil when none
// is known.
func (h *RedisHistory) Lookup(ctx context.Context, address string) (*Reputation, error) {
	data, err := h.rdb.Get(ctx, keyPrefix+address).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account reputation: %w", err)
	}
	var rep Reputation
	if err := json.Unmarshal(data, &rep); err != nil {
		// A corrupt record is treated as unknown rather than failing
		// the stage.
		h.logger.Warn("corrupt account reputation record", "address", address, "error", err)
		return nil, nil
	}
	return &rep, nil
}

// Put stores a reputation record with a TTL, used by intel ingestion
// and tests.
func (h *RedisHistory) Put(ctx context.Context, rep Reputation, ttl time.Duration) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode account reputation: %w", err)
	}
	if err := h.rdb.Set(ctx, keyPrefix+rep.Address, data, ttl).Err(); err != nil {
		return fmt.Errorf("store account reputation: %w", err)
	}
	return nil
}
