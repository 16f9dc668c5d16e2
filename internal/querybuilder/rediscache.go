package querybuilder

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/golang/snappy"

	"github.com/xloem/vartex/internal/vlog"
)

func init() {
	// Row values arrive from gocql.Iter.MapScan as one of these concrete
	// types; gob requires each concrete type stored in an interface{} field
	// to be registered before it can be encoded/decoded.
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(string(""))
	gob.Register(bool(false))
	gob.Register([]byte(nil))
	gob.Register(time.Time{})
}

// RedisCache is the shared cross-gateway-instance cache tier (spec.md §4.7
// is silent on caching; this is a DOMAIN STACK addition wiring
// go-redis/redis/v7 and golang/snappy, see DESIGN.md). Row payloads are
// gob-encoded then snappy-compressed before being stored, since query result
// sets repeat column names across rows and compress well.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache dials addr and returns a cacheTier with entries expiring
// after ttl.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (c *RedisCache) get(key string) ([]Row, bool) {
	compressed, err := c.client.Get(key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		vlog.New("querybuilder").Warn("redis cache get failed", "err", err)
		return nil, false
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		vlog.New("querybuilder").Warn("redis cache payload corrupt, dropping", "err", err)
		return nil, false
	}

	var rows []Row
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rows); err != nil {
		vlog.New("querybuilder").Warn("redis cache decode failed, dropping", "err", err)
		return nil, false
	}
	return rows, true
}

func (c *RedisCache) set(key string, rows []Row) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rows); err != nil {
		vlog.New("querybuilder").Warn("redis cache encode failed", "err", err)
		return
	}
	compressed := snappy.Encode(nil, buf.Bytes())
	if err := c.client.Set(key, compressed, c.ttl).Err(); err != nil {
		vlog.New("querybuilder").Warn("redis cache set failed", "err", err)
	}
}
