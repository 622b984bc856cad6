package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxqueue/internal/observe"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] could serve a
// request.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Request outcomes recorded per entry on voxqueue.provider.requests.
const (
	statusOK        = "ok"
	statusError     = "error"
	statusSkipped   = "circuit_open"
	statusCancelled = "cancelled"
)

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every entry's breaker. Name and
	// Logger are filled in per entry.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels provider metrics, e.g. "tts".
	Kind string

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries a primary backend and then its fallbacks in
// registration order, skipping any whose breaker is open. Every attempt is
// counted against the entry that made it.
//
// Entries must be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fg := &FallbackGroup[T]{
		cfg: cfg,
		log: cfg.Logger.With("kind", cfg.Kind),
	}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend tried after every entry added before it.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	cbCfg.Logger = fg.log
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Check reports an error when every entry's breaker is open. It is meant
// for /readyz and never calls a backend.
func (fg *FallbackGroup[T]) Check(context.Context) error {
	for i := range fg.entries {
		if fg.entries[i].breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: every %s circuit is open (%s)", ErrAllFailed, fg.cfg.Kind, strings.Join(fg.Names(), ", "))
}

// Execute runs fn against each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult runs fn against each entry until one succeeds and
// returns its result. A cancelled ctx stops the failover and is returned as
// is. When every entry fails the error wraps [ErrAllFailed] and each entry's
// error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(ctx, entry.value)
			return innerErr
		})
		fg.record(ctx, entry, err)
		switch {
		case err == nil:
			if i > 0 {
				fg.log.Info("resilience: served by fallback", "provider", entry.name, "attempt", i+1)
			}
			return result, nil
		case ctx.Err() != nil:
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			fg.log.Debug("resilience: skipping provider, circuit open", "provider", entry.name)
		default:
			fg.log.Warn("resilience: provider failed, trying next", "provider", entry.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (fg *FallbackGroup[T]) record(ctx context.Context, entry *fallbackEntry[T], err error) {
	status := statusOK
	switch {
	case err == nil:
	case errors.Is(err, ErrCircuitOpen):
		status = statusSkipped
	case errors.Is(err, context.Canceled):
		status = statusCancelled
	default:
		status = statusError
	}
	fg.cfg.Metrics.RecordProviderRequest(context.WithoutCancel(ctx), entry.name, fg.cfg.Kind, status, entry.breaker.State().String())
}
