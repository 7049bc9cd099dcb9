package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"
)

const (
	// breakerFailures consecutive failures pause a target chat.
	breakerFailures = 5
	// breakerCooldown is how long a paused target stays paused before one trial call.
	breakerCooldown = time.Minute
	// rateLimitAttempts bounds the tries of one call hitting flood control.
	rateLimitAttempts = 3
	maxRetryDelay     = 30 * time.Second
)

// guard runs Telegram calls for target chats. Each call waits for the chat's
// rate limiter and gets its own deadline. Calls rejected by flood control are
// retried after the advertised delay, and a chat that keeps failing is paused
// by a circuit breaker so one dead target does not stall the others.
type guard struct {
	limiter *limiterPool
	timeout time.Duration
	metrics *Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker
}

func newGuard(limiter *limiterPool, timeout time.Duration, metrics *Metrics, logger *slog.Logger) *guard {
	return &guard{
		limiter:  limiter,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger,
		breakers: make(map[int64]*gobreaker.CircuitBreaker),
	}
}

func (g *guard) breaker(chatID int64) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[chatID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        strconv.FormatInt(chatID, 10),
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotModified) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.metrics.breakerState(name, to)
			g.logger.Warn("Target chat breaker changed state", "target_chat_id", name, "from", from.String(), "to", to.String())
		},
	})
	g.breakers[chatID] = cb
	return cb
}

// call runs op against chatID.
func (g *guard) call(ctx context.Context, chatID int64, op func(ctx context.Context) error) error {
	_, err := g.breaker(chatID).Execute(func() (interface{}, error) {
		return nil, retry.Do(
			func() error {
				if err := g.limiter.Wait(ctx, chatID); err != nil {
					return err
				}
				callCtx, cancel := context.WithTimeout(ctx, g.timeout)
				defer cancel()
				return op(callCtx)
			},
			retry.Context(ctx),
			retry.Attempts(rateLimitAttempts),
			retry.RetryIf(func(err error) bool { return errors.Is(err, ErrRateLimited) }),
			retry.Delay(time.Second),
			retry.MaxDelay(maxRetryDelay),
			retry.DelayType(retryAfterDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				g.logger.Debug("Retrying after flood control", "target_chat_id", chatID, "attempt", n+1, "error", err)
			}),
		)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %d", ErrTargetPaused, chatID)
	}
	return err
}

// retryAfterDelay honours the delay Telegram asked for and backs off otherwise.
func retryAfterDelay(n uint, err error, cfg *retry.Config) time.Duration {
	var ra *RetryAfterError
	if errors.As(err, &ra) && ra.After > 0 {
		return ra.After
	}
	return retry.BackOffDelay(n, err, cfg)
}
