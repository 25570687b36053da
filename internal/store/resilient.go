package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/logging"
	"github.com/punchamoorthee/transferval/internal/models"
)

var ErrUnavailable = errors.New("audit store unavailable")

type BreakerConfig struct {
	// Timeout bounds every store call.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Timeout:             2 * time.Second,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// ResilientStore guards an AuditStore with a timeout and a circuit breaker so
// a slow or failing database cannot hold up the validation handshake.
type ResilientStore struct {
	inner   AuditStore
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *logging.Logger
}

func NewResilientStore(inner AuditStore, cfg BreakerConfig) *ResilientStore {
	logger := logging.L().Named("audit")
	rs := &ResilientStore{inner: inner, timeout: cfg.Timeout, logger: logger}

	rs.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-store",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			auditBreakerState.Set(float64(to))
		},
	})
	return rs
}

func (rs *ResilientStore) execute(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	if rs.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := rs.cb.Execute(func() (any, error) { return fn(ctx) })
	auditLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			auditErrors.WithLabelValues(op, "open").Inc()
			return nil, ErrUnavailable
		}
		if !errors.Is(err, ErrNotFound) {
			auditErrors.WithLabelValues(op, "error").Inc()
		}
		return nil, err
	}
	return result, nil
}

func (rs *ResilientStore) Record(ctx context.Context, rec models.AuditRecord) error {
	_, err := rs.execute(ctx, "record", func(ctx context.Context) (any, error) {
		return nil, rs.inner.Record(ctx, rec)
	})
	return err
}

func (rs *ResilientStore) Get(ctx context.Context, id domain.ServerID) (*models.AuditRecord, error) {
	res, err := rs.execute(ctx, "get", func(ctx context.Context) (any, error) {
		return rs.inner.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.AuditRecord), nil
}

func (rs *ResilientStore) ListByVale(ctx context.Context, numeroVale string) ([]models.AuditRecord, error) {
	res, err := rs.execute(ctx, "list", func(ctx context.Context) (any, error) {
		return rs.inner.ListByVale(ctx, numeroVale)
	})
	if err != nil {
		return nil, err
	}
	return res.([]models.AuditRecord), nil
}

// State exposes the breaker state for health reporting.
func (rs *ResilientStore) State() string {
	return rs.cb.State().String()
}
