package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kislikjeka/fundflow/internal/platform/wallet"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

const (
	// DefaultTTL bounds how long a wallet snapshot may be served after a missed invalidation
	DefaultTTL = 30 * time.Second

	// KeyPrefix is the prefix for wallet snapshot keys
	KeyPrefix = "wallet:"

	// VersionKeyPrefix is the prefix for the per-wallet invalidation counters
	VersionKeyPrefix = "wallet_version:"
)

// setIfVersion writes the snapshot only while the wallet's version still
// equals the one the caller read before loading the row
var setIfVersion = redis.NewScript(`
local current = redis.call("GET", KEYS[2])
if not current then
	current = "0"
end
if current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// WalletCache is a Redis-backed read-through cache of wallet snapshots.
// Snapshots serve reads only; postings always read the locked database row.
type WalletCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewWalletCache creates a new wallet cache. A non-positive ttl selects DefaultTTL.
func NewWalletCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *WalletCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &WalletCache{
		client: client,
		ttl:    ttl,
		logger: log.WithComponent("wallet_cache"),
	}
}

// cachedWallet is the serialized snapshot; the balance is kept as a decimal string
type cachedWallet struct {
	ID            uuid.UUID        `json:"id"`
	OwnerType     wallet.OwnerType `json:"owner_type"`
	OwnerID       uuid.UUID        `json:"owner_id"`
	Currency      string           `json:"currency"`
	Status        wallet.Status    `json:"status"`
	CachedBalance string           `json:"cached_balance"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func key(id uuid.UUID) string {
	return KeyPrefix + id.String()
}

func versionKey(id uuid.UUID) string {
	return VersionKeyPrefix + id.String()
}

// versionTTL outlives any snapshot so a counter never resets under a live reader
func (c *WalletCache) versionTTL() time.Duration {
	return 2*c.ttl + time.Minute
}

// Version returns the number of invalidations seen for the wallet, zero if none
func (c *WalletCache) Version(ctx context.Context, id uuid.UUID) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		c.logger.Error("cache error", "operation", "version", "wallet_id", id, "error", err)
		return 0, fmt.Errorf("failed to get wallet cache version: %w", err)
	}
	return v, nil
}

// Get retrieves a wallet snapshot
func (c *WalletCache) Get(ctx context.Context, id uuid.UUID) (*wallet.Wallet, bool, error) {
	val, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("cache miss", "wallet_id", id)
		return nil, false, nil
	}
	if err != nil {
		c.logger.Error("cache error", "operation", "get", "wallet_id", id, "error", err)
		return nil, false, fmt.Errorf("failed to get cached wallet: %w", err)
	}

	var cached cachedWallet
	if err := json.Unmarshal(val, &cached); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached wallet: %w", err)
	}

	balance, ok := new(big.Int).SetString(cached.CachedBalance, 10)
	if !ok {
		return nil, false, fmt.Errorf("failed to parse cached balance: %q", cached.CachedBalance)
	}

	c.logger.Debug("cache hit", "wallet_id", id)
	return &wallet.Wallet{
		ID:            cached.ID,
		OwnerType:     cached.OwnerType,
		OwnerID:       cached.OwnerID,
		Currency:      cached.Currency,
		Status:        cached.Status,
		CachedBalance: balance,
		CreatedAt:     cached.CreatedAt,
		UpdatedAt:     cached.UpdatedAt,
	}, true, nil
}

// Set stores a wallet snapshot with the cache TTL, unless the wallet was
// invalidated after version was read
func (c *WalletCache) Set(ctx context.Context, w *wallet.Wallet, version int64) error {
	data, err := json.Marshal(cachedWallet{
		ID:            w.ID,
		OwnerType:     w.OwnerType,
		OwnerID:       w.OwnerID,
		Currency:      w.Currency,
		Status:        w.Status,
		CachedBalance: w.Balance().String(),
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal wallet: %w", err)
	}

	keys := []string{key(w.ID), versionKey(w.ID)}
	stored, err := setIfVersion.Run(ctx, c.client, keys, version, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Error("cache error", "operation", "set", "wallet_id", w.ID, "error", err)
		return fmt.Errorf("failed to set cached wallet: %w", err)
	}
	if stored == 0 {
		c.logger.Debug("stale snapshot dropped", "wallet_id", w.ID, "version", version)
	}

	return nil
}

// Invalidate drops the snapshots of the given wallets and bumps their versions
func (c *WalletCache) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, versionKey(id))
			pipe.PExpire(ctx, versionKey(id), c.versionTTL())
			pipe.Del(ctx, key(id))
		}
		return nil
	})
	if err != nil {
		c.logger.Error("cache error", "operation", "invalidate", "wallets", len(ids), "error", err)
		return fmt.Errorf("failed to invalidate cached wallets: %w", err)
	}

	return nil
}

// Clear removes all wallet snapshots
func (c *WalletCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()

	pipe := c.client.Pipeline()
	count := 0
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		count++
		if count >= 100 {
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			pipe = c.client.Pipeline()
			count = 0
		}
	}

	if count > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}

	return iter.Err()
}
