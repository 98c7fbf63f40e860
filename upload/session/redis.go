package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sensorsync/go-collector-sync/upload"
)

// DefaultRedisPrefix ...
const DefaultRedisPrefix = "upload-session:"

// Redis is a SessionRegistry shared by all processes using the same redis server.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ upload.SessionRegistry = (*Redis)(nil)

// RedisParams ...
type RedisParams struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL drops sessions nobody touched for this long, zero keeps them forever.
	TTL time.Duration
}

// OpenRedis connects to the redis server and checks the connection.
func OpenRedis(ctx context.Context, params RedisParams) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     params.Addr,
		Password: params.Password,
		DB:       params.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedis(client, params.Prefix, params.TTL), nil
}

// NewRedis ...
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Close ...
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(id upload.Identifier) string {
	return r.prefix + id.String()
}

// Get ...
func (r *Redis) Get(ctx context.Context, id upload.Identifier) (*upload.Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return decode(data)
}

// Register ...
func (r *Redis) Register(ctx context.Context, s upload.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, r.key(s.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("register session %s: %w", s.ID, err)
	}
	if !ok {
		return upload.ErrDuplicateSession
	}
	return nil
}

// Update ...
func (r *Redis) Update(ctx context.Context, s upload.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.key(s.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	return nil
}

// Remove ...
func (r *Redis) Remove(ctx context.Context, id upload.Identifier) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}
