package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/interfaces"
	"github.com/bobmcallan/realperf/internal/models"
)

const (
	DefaultMaxRetries = 3
	DefaultBackoff    = 500 * time.Millisecond
)

// Guarded wraps a fetcher so that a provider failure never escapes:
// every attempt runs under a timeout with panic recovery, transient
// failures are retried with exponential backoff, and the final failure is
// recorded in the batch metadata instead of being returned.
type Guarded struct {
	inner       interfaces.TransactionFetcher
	institution string
	role        models.ProviderRole
	format      string
	maxRetries  int
	timeout     time.Duration
	backoff     time.Duration
	logger      *common.Logger
}

// GuardOption configures a Guarded fetcher
type GuardOption func(*Guarded)

// WithMaxRetries sets the number of attempts
func WithMaxRetries(n int) GuardOption {
	return func(g *Guarded) {
		if n > 0 {
			g.maxRetries = n
		}
	}
}

// WithAttemptTimeout bounds each attempt
func WithAttemptTimeout(d time.Duration) GuardOption {
	return func(g *Guarded) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithBackoff sets the initial delay between attempts
func WithBackoff(d time.Duration) GuardOption {
	return func(g *Guarded) {
		g.backoff = d
	}
}

// WithGuardLogger sets the logger
func WithGuardLogger(logger *common.Logger) GuardOption {
	return func(g *Guarded) {
		g.logger = logger
	}
}

// WithIdentity stamps institution, role and format onto batches whose
// fetcher left them empty.
func WithIdentity(cfg common.ProviderConfig) GuardOption {
	return func(g *Guarded) {
		g.institution = cfg.Institution
		g.role = models.ProviderRole(cfg.Role)
		g.format = cfg.Format
	}
}

// NewGuarded wraps inner.
func NewGuarded(inner interfaces.TransactionFetcher, opts ...GuardOption) *Guarded {
	g := &Guarded{
		inner:      inner,
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultTimeout,
		backoff:    DefaultBackoff,
		logger:     common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the wrapped provider's name.
func (g *Guarded) Name() string {
	return g.inner.Name()
}

// Fetch never returns an error. On failure the batch carries no records
// and Meta.Error describes the last failure.
func (g *Guarded) Fetch(ctx context.Context, window models.DateRange) (models.RawBatch, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		attempts++
		batch, err := g.attempt(ctx, window)
		if err == nil {
			batch.Meta.Attempts = attempts
			return g.stamp(batch), nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == g.maxRetries-1 {
			break
		}

		wait := g.backoff * time.Duration(1<<uint(attempt))
		g.logger.Warn().Err(err).
			Str("provider", g.Name()).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Msg("Provider fetch failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
		case <-timer.C:
			continue
		}
		break
	}

	g.logger.Error().Err(lastErr).Str("provider", g.Name()).Int("attempts", attempts).Msg("Provider fetch failed")

	return g.stamp(models.RawBatch{
		Provider: g.Name(),
		Meta: models.FetchMetadata{
			Attempts: attempts,
			Error:    fmt.Sprintf("failed after %d attempts: %v", attempts, lastErr),
		},
	}), nil
}

func (g *Guarded) attempt(ctx context.Context, window models.DateRange) (batch models.RawBatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	return g.inner.Fetch(actx, window)
}

func (g *Guarded) stamp(b models.RawBatch) models.RawBatch {
	if b.Provider == "" {
		b.Provider = g.Name()
	}
	if b.Institution == "" {
		b.Institution = g.institution
	}
	if b.Role == "" {
		b.Role = g.role
	}
	if b.Format == "" {
		b.Format = g.format
	}
	return b
}

// retryable treats client errors other than throttling as permanent.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}
