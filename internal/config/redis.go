package config

// Redis backs the rate limiter, the /movies response cache, the catalog
// detail cache and, when enabled, the seat-update stream.  A failed
// connection at startup disables those features instead of stopping the
// server.

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisOptions builds client options from REDIS_ADDR, or REDIS_HOST and
// REDIS_PORT (which win when both are set), REDIS_PASSWORD, REDIS_DB and
// REDIS_TLS.
func RedisOptions() *redis.Options {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	opts := &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	}
	if envBool("REDIS_TLS", false) {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// NewRedisClient connects with RedisOptions and pings the server.  It
// returns nil when Redis is unreachable; callers degrade gracefully.
func NewRedisClient(log logrus.FieldLogger) *redis.Client {
	opts := RedisOptions()
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).WithField("addr", opts.Addr).Warn("redis unavailable, cache and rate limiting disabled")
		_ = client.Close()
		return nil
	}
	return client
}
