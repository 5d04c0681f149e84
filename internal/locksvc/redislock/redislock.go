// Package redislock keeps lock ownership in Redis.
//
// Each datastore is a hash at <prefix>ds:<datastore> mapping a module name
// ("*" for the whole-datastore lock) to the owning session. Each owner has a
// set at <prefix>owner:<owner> listing the hash fields it holds so ReleaseAll
// can find them. All mutations run as Lua scripts, so a check and its write
// are atomic on the server.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/lockharness/internal/locksvc"
)

const (
	datastoreField = "*"
	defaultPrefix  = "lockharness:"
)

// Config controls redis client behavior.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Prefix == "" {
		out.Prefix = defaultPrefix
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// Table implements locksvc.Table on Redis.
type Table struct {
	rdb    *redis.Client
	prefix string
}

// Open connects to Redis and validates connectivity via PING.
func Open(ctx context.Context, cfg Config) (*Table, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(rdb, cfg.Prefix), nil
}

// New wraps an existing client. An empty prefix uses "lockharness:".
func New(rdb *redis.Client, prefix string) *Table {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Table{rdb: rdb, prefix: prefix}
}

// Close closes the underlying client.
func (t *Table) Close() error {
	return t.rdb.Close()
}

var acquireScript = redis.NewScript(`
-- KEYS[1] = datastore hash, KEYS[2] = owner set
-- ARGV[1] = field, ARGV[2] = owner, ARGV[3] = owner set member
-- Returns 1 if acquired, 0 if the field is already held.
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
-- KEYS[1] = datastore hash, KEYS[2] = owner set
-- ARGV[1] = field, ARGV[2] = owner, ARGV[3] = owner set member
-- Returns 1 if released, 0 if the caller does not hold the field.
if redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('SREM', KEYS[2], ARGV[3])
return 1
`)

var releaseAllScript = redis.NewScript(`
-- KEYS[1] = owner set
-- ARGV[1] = key prefix, ARGV[2] = owner
-- Members are "<datastore> <field>".
local members = redis.call('SMEMBERS', KEYS[1])
for _, m in ipairs(members) do
  local sep = string.find(m, ' ', 1, true)
  local hash = ARGV[1] .. 'ds:' .. string.sub(m, 1, sep - 1)
  local field = string.sub(m, sep + 1)
  if redis.call('HGET', hash, field) == ARGV[2] then
    redis.call('HDEL', hash, field)
  end
end
redis.call('DEL', KEYS[1])
return #members
`)

func (t *Table) hashKey(ds locksvc.Datastore) string {
	return t.prefix + "ds:" + string(ds)
}

func (t *Table) ownerKey(owner string) string {
	return t.prefix + "owner:" + owner
}

func field(key locksvc.Key) string {
	if key.IsDatastore() {
		return datastoreField
	}
	return key.Module
}

func member(key locksvc.Key) string {
	return string(key.Datastore) + " " + field(key)
}

func (t *Table) Acquire(ctx context.Context, key locksvc.Key, owner string) error {
	keys := []string{t.hashKey(key.Datastore), t.ownerKey(owner)}
	res, err := acquireScript.Run(ctx, t.rdb, keys, field(key), owner, member(key)).Int()
	if err != nil {
		return locksvc.Internal("redis acquire", err)
	}
	if res == 0 {
		return locksvc.Errorf(locksvc.CodeConflict, "%s is already locked", key)
	}
	return nil
}

func (t *Table) Release(ctx context.Context, key locksvc.Key, owner string) error {
	keys := []string{t.hashKey(key.Datastore), t.ownerKey(owner)}
	res, err := releaseScript.Run(ctx, t.rdb, keys, field(key), owner, member(key)).Int()
	if err != nil {
		return locksvc.Internal("redis release", err)
	}
	if res == 0 {
		return locksvc.Errorf(locksvc.CodeNotHeld, "%s is not locked by this session", key)
	}
	return nil
}

func (t *Table) ReleaseAll(ctx context.Context, owner string) error {
	if _, err := releaseAllScript.Run(ctx, t.rdb, []string{t.ownerKey(owner)}, t.prefix, owner).Result(); err != nil {
		return locksvc.Internal("redis release all", err)
	}
	return nil
}

func (t *Table) HeldByOthers(ctx context.Context, ds locksvc.Datastore, owner string) (bool, error) {
	holders, err := t.rdb.HVals(ctx, t.hashKey(ds)).Result()
	if err != nil {
		return false, locksvc.Internal("redis hvals", err)
	}
	for _, h := range holders {
		if h != owner {
			return true, nil
		}
	}
	return false, nil
}
