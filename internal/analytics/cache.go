package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/query"
)

const (
	cacheVersionKey = "dashboard:cache:version"
	departmentsKey  = "dashboard:departments"

	// BumpChannel carries cache version bumps between dashboard instances.
	BumpChannel = "dashboard.cache.bump"
)

// Cache wraps Redis based caching with versioning controls.
type Cache struct {
	client   *redis.Client
	ttl      time.Duration
	onLookup func(name string, hit bool)
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// OnLookup registers a hook called for every read-through lookup.
func (c *Cache) OnLookup(fn func(name string, hit bool)) {
	if c != nil {
		c.onLookup = fn
	}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader. Loads started by a manual
// retry (query.Forced) skip the read and overwrite the entry.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx, dest, loader, nil)
	}
	if !query.Forced(ctx) {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			c.lookup(key, true)
			return json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
	}
	c.lookup(key, false)
	return load(ctx, dest, loader, func(raw []byte) error {
		return c.client.Set(ctx, key, raw, c.ttl).Err()
	})
}

func load(ctx context.Context, dest interface{}, loader func(context.Context) (interface{}, error), store func([]byte) error) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store(raw); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dest)
}

func (c *Cache) lookup(key string, hit bool) {
	if c.onLookup == nil {
		return
	}
	name := key
	if parts := strings.SplitN(key, ":", 3); len(parts) >= 2 {
		name = parts[1]
	}
	c.onLookup(name, hit)
}

// Bump invalidates the cache by incrementing the global version and publishing an event.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation subscribes to version bump notifications.
func (c *Cache) ListenForInvalidation(ctx context.Context, channel string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if channel == "" {
		channel = BumpChannel
	}
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload != "" {
					if ver, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil {
						_ = c.raiseVersion(ctx, ver)
						continue
					}
				}
				_ = c.client.Incr(ctx, cacheVersionKey).Err()
			}
		}
	}()
	return nil
}

// raiseVersion never moves the version backwards; a late message must not revive old keys.
func (c *Cache) raiseVersion(ctx context.Context, ver int64) error {
	current, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if ver <= current {
		return nil
	}
	return c.client.Set(ctx, cacheVersionKey, ver, 0).Err()
}

// RememberDepartments adds names to the partition's registry used by cache warmup and the
// department catalog.
func (c *Cache) RememberDepartments(ctx context.Context, partition string, names ...string) error {
	if c == nil || c.client == nil {
		return nil
	}
	members := make([]interface{}, 0, len(names))
	for _, name := range names {
		if name == "" || name == filters.AllDepartments {
			continue
		}
		members = append(members, name)
	}
	if len(members) == 0 {
		return nil
	}
	return c.client.SAdd(ctx, departmentsKey+":"+partition, members...).Err()
}

// Departments lists every department seen so far in partition, sorted.
func (c *Cache) Departments(ctx context.Context, partition string) ([]string, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	names, err := c.client.SMembers(ctx, departmentsKey+":"+partition).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func keyInsights(partition string, opts filters.Options) []string {
	return append([]string{"dashboard", "insights", partition}, opts.KeyParts()...)
}
