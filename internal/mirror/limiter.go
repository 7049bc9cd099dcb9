package mirror

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool hands out one token bucket per target chat so a busy source
// cannot trip Telegram's per-chat flood limits.
type limiterPool struct {
	mu    sync.Mutex
	m     map[int64]*rate.Limiter
	rps   float64
	burst int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{m: make(map[int64]*rate.Limiter), rps: rps, burst: burst}
}

func (p *limiterPool) get(chatID int64) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[chatID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[chatID] = l
	return l
}

// Wait blocks until a send to chatID is allowed or ctx is done.
func (p *limiterPool) Wait(ctx context.Context, chatID int64) error {
	return p.get(chatID).Wait(ctx)
}
