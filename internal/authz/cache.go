package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "authz:check"
	verKeyPrefix   = "authz:ver"
	epochKey       = "authz:epoch"
)

// CacheKey identifies one resolved check outcome. The tenant is always part
// of the key so entries can never satisfy a lookup from another tenant.
type CacheKey struct {
	PrincipalID string
	TenantID    string
	Resource    ResourceType
	Action      Action
	ResourceID  string
}

func (k CacheKey) String() string {
	id := k.ResourceID
	if id == "" {
		id = "*"
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s", cacheKeyPrefix, k.TenantID, k.PrincipalID, k.Resource, k.Action, id)
}

func (k CacheKey) pair() string {
	return k.TenantID + ":" + k.PrincipalID
}

// CacheEntry is a stored check outcome. It is fresh only while Version and
// Epoch match the current counters for its principal/tenant pair.
type CacheEntry struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
	Version uint64 `json:"version"`
	Epoch   uint64 `json:"epoch"`
}

// Cache is the two-level check-outcome cache: an in-process expirable LRU in
// front of a shared Redis layer. Invalidation bumps per-pair version counters
// instead of enumerating keys; the TTL is only a safety net against missed
// invalidation events. A failing shared layer degrades to "always miss".
type Cache struct {
	local  *lru.LRU[string, CacheEntry]
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	epoch    atomic.Uint64
	versions sync.Map // pair key -> *atomic.Uint64
}

// NewCache constructs the cache. client may be nil, in which case only the
// process-local layer is used.
func NewCache(client *redis.Client, size int, ttl time.Duration, logger *slog.Logger) *Cache {
	if size <= 0 {
		size = 16384
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		local:  lru.NewLRU[string, CacheEntry](size, nil, ttl),
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Version returns the current local invalidation version for the pair.
func (c *Cache) Version(principalID, tenantID string) uint64 {
	return c.pairCounter(tenantID + ":" + principalID).Load()
}

// Get returns a fresh entry for the key, consulting the local layer first and
// the shared layer on a local miss. Shared hits are promoted into the local
// layer. Any shared-layer failure is reported as a miss.
func (c *Cache) Get(ctx context.Context, key CacheKey) (CacheEntry, bool) {
	localVer := c.pairCounter(key.pair()).Load()
	localEpoch := c.epoch.Load()

	if entry, ok := c.local.Get(key.String()); ok {
		if entry.Version == localVer && entry.Epoch == localEpoch {
			return entry, true
		}
		c.local.Remove(key.String())
	}

	if c.client == nil {
		return CacheEntry{}, false
	}
	entry, ok, err := c.sharedGet(ctx, key)
	if err != nil {
		c.logger.Debug("authz cache shared get degraded to miss", slog.Any("error", err))
		return CacheEntry{}, false
	}
	if !ok {
		return CacheEntry{}, false
	}
	entry.Version = localVer
	entry.Epoch = localEpoch
	c.local.Add(key.String(), entry)
	return entry, true
}

// Set stores an outcome in both layers. The version counters are re-read
// immediately before each store so a write racing an invalidation can never
// masquerade as a post-invalidation answer.
func (c *Cache) Set(ctx context.Context, key CacheKey, allowed bool, reason Reason) {
	entry := CacheEntry{
		Allowed: allowed,
		Reason:  reason,
		Version: c.pairCounter(key.pair()).Load(),
		Epoch:   c.epoch.Load(),
	}
	c.local.Add(key.String(), entry)

	if c.client == nil {
		return
	}
	if err := c.sharedSet(ctx, key, entry); err != nil {
		c.logger.Debug("authz cache shared set skipped", slog.Any("error", err))
	}
}

// Invalidate bumps the pair's version in both layers. Entries written under
// the previous version stop matching immediately; any check started after
// this returns resolves against current role state. The local bump always
// happens, even when the shared layer is unreachable.
func (c *Cache) Invalidate(ctx context.Context, principalID, tenantID string) error {
	pair := tenantID + ":" + principalID
	c.pairCounter(pair).Add(1)
	if c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, verKeyPrefix+":"+pair).Err(); err != nil {
		return fmt.Errorf("authz: invalidate shared version: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached outcome across both layers by bumping the
// global epoch. Old shared entries are orphaned and reaped by TTL.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.epoch.Add(1)
	c.local.Purge()
	if c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, epochKey).Err(); err != nil {
		return fmt.Errorf("authz: invalidate shared epoch: %w", err)
	}
	return nil
}

func (c *Cache) pairCounter(pair string) *atomic.Uint64 {
	if counter, ok := c.versions.Load(pair); ok {
		return counter.(*atomic.Uint64)
	}
	counter, _ := c.versions.LoadOrStore(pair, &atomic.Uint64{})
	return counter.(*atomic.Uint64)
}

func (c *Cache) sharedGet(ctx context.Context, key CacheKey) (CacheEntry, bool, error) {
	pipe := c.client.Pipeline()
	entryCmd := pipe.Get(ctx, key.String())
	verCmd := pipe.Get(ctx, verKeyPrefix+":"+key.pair())
	epochCmd := pipe.Get(ctx, epochKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return CacheEntry{}, false, err
	}

	payload, err := entryCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return CacheEntry{}, false, err
	}
	ver, err := redisCounter(verCmd)
	if err != nil {
		return CacheEntry{}, false, err
	}
	epoch, err := redisCounter(epochCmd)
	if err != nil {
		return CacheEntry{}, false, err
	}
	if entry.Version != ver || entry.Epoch != epoch {
		return CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (c *Cache) sharedSet(ctx context.Context, key CacheKey, entry CacheEntry) error {
	pipe := c.client.Pipeline()
	verCmd := pipe.Get(ctx, verKeyPrefix+":"+key.pair())
	epochCmd := pipe.Get(ctx, epochKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	ver, err := redisCounter(verCmd)
	if err != nil {
		return err
	}
	epoch, err := redisCounter(epochCmd)
	if err != nil {
		return err
	}
	entry.Version = ver
	entry.Epoch = epoch
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key.String(), payload, c.ttl).Err()
}

// redisCounter reads a counter command, treating a missing key as zero.
func redisCounter(cmd *redis.StringCmd) (uint64, error) {
	val, err := cmd.Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}
