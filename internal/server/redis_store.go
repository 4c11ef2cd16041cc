package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTLSConfig optionally enables TLS for the rate limiter's Redis
// connection. CAFile, when set, pins the expected server certificate
// authority instead of trusting the system pool.
type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type redisStoreConfig struct {
	Addr     string
	Password string
	Timeout  time.Duration
	TLS      RedisTLSConfig
}

// redisStore backs the sensitive-endpoint rate limiter with a shared Redis
// INCR/EXPIRE/TTL counter so the limit holds across every process in a
// horizontally scaled deployment, not just the local in-memory token bucket.
type redisStore struct {
	client *redis.Client
}

func newRedisStore(cfg redisStoreConfig) (*redisStore, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.TLS.Enabled || cfg.TLS.CAFile != "" {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			pem, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read redis CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", cfg.TLS.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		opts.TLSConfig = tlsConfig
	}
	return &redisStore{client: redis.NewClient(opts)}, nil
}

func (s *redisStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		seconds := int64(window / time.Second)
		if seconds <= 0 {
			seconds = 1
		}
		if err := s.client.Expire(ctx, key, time.Duration(seconds)*time.Second).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}

func (s *redisStore) Close(_ context.Context) error {
	return s.client.Close()
}
