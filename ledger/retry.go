package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// ErrUnavailable marks a ledger call that failed for a transient reason and
// may succeed on retry.
var ErrUnavailable = errors.New("ledger: temporarily unavailable")

const (
	defaultAttempts    = 3
	defaultBackoffBase = 500 * time.Millisecond
	defaultCallTimeout = 30 * time.Second
)

// Retrier wraps an Adapter with per-call timeouts and bounded retries for
// transient transfer failures. Reads retry too; business errors surface
// immediately.
type Retrier struct {
	inner    Adapter
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// RetrierOption customises a Retrier instance.
type RetrierOption func(*Retrier)

// WithAttempts bounds the number of tries per call.
func WithAttempts(attempts int) RetrierOption {
	return func(r *Retrier) {
		if attempts > 0 {
			r.attempts = attempts
		}
	}
}

// WithBackoff sets the base backoff doubled on every failed attempt.
func WithBackoff(base time.Duration) RetrierOption {
	return func(r *Retrier) {
		if base > 0 {
			r.backoff = base
		}
	}
}

// WithCallTimeout bounds each individual ledger call.
func WithCallTimeout(timeout time.Duration) RetrierOption {
	return func(r *Retrier) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewRetrier wraps the adapter with the default retry policy.
func NewRetrier(inner Adapter, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		inner:    inner,
		attempts: defaultAttempts,
		backoff:  defaultBackoffBase,
		timeout:  defaultCallTimeout,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsTransient reports whether the error is worth retrying: explicit
// unavailability, timeouts, and network-level failures qualify. Anything
// else is treated as terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (r *Retrier) do(ctx context.Context, call func(ctx context.Context) error) error {
	var lastErr error
	backoff := r.backoff
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("ledger: %d attempts exhausted: %w", r.attempts, lastErr)
}

// BalanceOf queries the balance with retry on transient failures.
func (r *Retrier) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	var out *big.Int
	err := r.do(ctx, func(ctx context.Context) error {
		value, err := r.inner.BalanceOf(ctx, address)
		if err != nil {
			return err
		}
		out = value
		return nil
	})
	return out, err
}

// Claimable queries the accrued royalty with retry on transient failures.
func (r *Retrier) Claimable(ctx context.Context, chapterID, author string) (*big.Int, error) {
	var out *big.Int
	err := r.do(ctx, func(ctx context.Context) error {
		value, err := r.inner.Claimable(ctx, chapterID, author)
		if err != nil {
			return err
		}
		out = value
		return nil
	})
	return out, err
}

// Transfer executes the transfer with retry on transient failures. The
// ledger is assumed to bookkeep idempotently under at-least-once attempts.
func (r *Retrier) Transfer(ctx context.Context, destination string, amount *big.Int) (string, error) {
	var ref string
	err := r.do(ctx, func(ctx context.Context) error {
		value, err := r.inner.Transfer(ctx, destination, amount)
		if err != nil {
			return err
		}
		ref = value
		return nil
	})
	return ref, err
}

// Allowance queries the allowance with retry on transient failures.
func (r *Retrier) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	var out *big.Int
	err := r.do(ctx, func(ctx context.Context) error {
		value, err := r.inner.Allowance(ctx, owner, spender)
		if err != nil {
			return err
		}
		out = value
		return nil
	})
	return out, err
}
