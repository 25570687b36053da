package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/punchamoorthee/transferval/internal/config"
	"github.com/punchamoorthee/transferval/internal/domain"
)

// Arbiter decides which terminal outcome wins when several hub replicas (or
// several admins) finish the same request. Claim returns true for the first
// caller only.
type Arbiter interface {
	Claim(ctx context.Context, id domain.ServerID, outcome domain.Status) (bool, error)
}

// localArbiter is used with a single hub; the pending registry already
// guarantees a single winner in-process.
type localArbiter struct{}

func (localArbiter) Claim(context.Context, domain.ServerID, domain.Status) (bool, error) {
	return true, nil
}

// RedisArbiter records the first outcome per id with SET NX.
type RedisArbiter struct {
	client rueidis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisArbiter(ctx context.Context, cfg config.RedisConfig) (*RedisArbiter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: no address configured")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.Addr},
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}
	return &RedisArbiter{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (a *RedisArbiter) Claim(ctx context.Context, id domain.ServerID, outcome domain.Status) (bool, error) {
	cmd := a.client.B().Set().Key(a.prefix + string(id)).Value(string(outcome)).Nx().PxMilliseconds(a.ttl.Milliseconds()).Build()
	if err := a.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("redis claim %s: %w", id, err)
	}
	return true, nil
}

// Outcome returns the recorded winner for id, if any.
func (a *RedisArbiter) Outcome(ctx context.Context, id domain.ServerID) (domain.Status, bool, error) {
	v, err := a.client.Do(ctx, a.client.B().Get().Key(a.prefix+string(id)).Build()).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis outcome %s: %w", id, err)
	}
	return domain.Status(v), true, nil
}

func (a *RedisArbiter) Close() {
	a.client.Close()
}
