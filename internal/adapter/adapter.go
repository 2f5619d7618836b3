// Package adapter translates domain operations into primitive reads,
// queries, and atomic multi-path writes against the realtime store. It
// owns every consistency-sensitive read-modify-write sequence in the
// core.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/observability"
	"chatsync/internal/rtdb"
)

type Options struct {
	// OpTimeout bounds each attempt of a remote operation.
	OpTimeout time.Duration
	// MaxRetries is the number of additional attempts after a transport
	// failure. Domain errors are never retried.
	MaxRetries int
	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.OpTimeout <= 0 {
		o.OpTimeout = 5 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
	return o
}

type Adapter struct {
	store rtdb.Store
	log   *zap.Logger
	opts  Options
}

func New(store rtdb.Store, log *zap.Logger, opts Options) *Adapter {
	return &Adapter{store: store, log: log, opts: opts.withDefaults()}
}

// do runs one remote operation under the timeout/bounded-retry policy.
// Transport failures surface as ErrStoreUnavailable after the final
// attempt.
func (a *Adapter) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() {
		observability.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var err error
	for attempt := 0; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, a.opts.OpTimeout)
		err = fn(opCtx)
		cancel()

		if err == nil || !retryable(err) || attempt >= a.opts.MaxRetries {
			break
		}
		observability.StoreOpRetries.WithLabelValues(op).Inc()
		a.log.Warn("store operation retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-time.After(a.opts.RetryBackoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, ctx.Err())
		}
	}

	if retryable(err) {
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	}
	return err
}

func retryable(err error) bool {
	return errors.Is(err, rtdb.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
