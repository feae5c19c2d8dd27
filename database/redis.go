package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"uplink-service/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// RedisSessions holds refresh tokens and presence counters.
	RedisSessions = 0
	// RedisAdapter backs the socket.io cluster adapter.
	RedisAdapter = 1
)

// Redis is one client per configured logical database.
type Redis map[int]*redis.Client

func RedisConnect(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (Redis, error) {
	clients := make(Redis)
	for _, db := range strings.Split(cfg.DB, ",") {
		dbNumber, err := strconv.Atoi(strings.TrimSpace(db))
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", db, err)
		}

		options := &redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       dbNumber,
		}

		client := redis.NewClient(options)
		if err := client.Ping(ctx).Err(); err != nil {
			clients.Close()
			return nil, fmt.Errorf("ping redis db %d: %w", dbNumber, err)
		}
		clients[dbNumber] = client
	}

	log.Info("connections opened to redis", zap.Int("databases", len(clients)))
	return clients, nil
}

// Client returns the client for db, or the first configured one.
func (r Redis) Client(db int) *redis.Client {
	if c, ok := r[db]; ok {
		return c
	}
	for _, c := range r {
		return c
	}
	return nil
}

func (r Redis) Close() {
	for _, c := range r {
		_ = c.Close()
	}
}
