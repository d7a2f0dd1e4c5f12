package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore aggregates decision counters in Redis hashes:
//
//	<prefix>:total                   outcome -> count, never expires
//	<prefix>:minute:<YYYYMMDDhhmm>   outcome -> count, expires after TTL
//	<prefix>:route                   "METHOD path:outcome" -> count
//	<prefix>:rule:<table>:<index>    outcome -> count, expires after TTL
//
// Several gateway instances can share one Redis and their counters add up.
type RedisStore struct {
	rdb        *redis.Client
	prefix     string
	ttl        time.Duration
	trackRules bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix. Default: "limitgate:stats".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets the expiry of per-minute and per-rule keys. Zero disables expiry.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// WithRedisRuleTracking enables per-rule hashes. Default: true.
func WithRedisRuleTracking(track bool) RedisOption {
	return func(s *RedisStore) { s.trackRules = track }
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:        rdb,
		prefix:     "limitgate:stats",
		ttl:        24 * time.Hour,
		trackRules: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RedisConfig holds connection settings for DialRedis.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// DialRedis creates a client and checks connectivity with PING.
func DialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		DisableIdentity: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}
	return rdb, nil
}

// Record implements Store. All counters for one event go out in a single
// pipeline.
func (s *RedisStore) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := ev.Outcome
	if field == "" {
		field = "unmatched"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	minuteKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, minuteKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, minuteKey, s.ttl)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.trackRules {
		ruleHash := s.prefix + ":rule:" + ruleKey(ev.Table, ev.Rule)
		pipe.HIncrBy(ctx, ruleHash, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, ruleHash, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Total reads the cumulative counters.
func (s *RedisStore) Total(ctx context.Context) (Counters, error) {
	return s.counters(ctx, s.prefix+":total")
}

// Rule reads the counters of one rule.
func (s *RedisStore) Rule(ctx context.Context, table string, rule int) (Counters, error) {
	return s.counters(ctx, s.prefix+":rule:"+ruleKey(table, rule))
}

func (s *RedisStore) counters(ctx context.Context, key string) (Counters, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("read %s: %w", key, err)
	}

	var c Counters
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("parse %s[%s]: %w", key, field, err)
		}
		switch field {
		case "allowed":
			c.Allowed = n
		case "rejected":
			c.Rejected = n
		case "free_pass":
			c.FreePasses = n
		case "unmatched":
			c.Unmatched = n
		}
	}
	return c, nil
}
