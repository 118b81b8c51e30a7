package bot

import (
	"sync"

	"golang.org/x/time/rate"
)

const maxLimitedChats = 10000

// chatLimiter hands out one token bucket per chat. Live location updates are
// never limited; they drive the watch expiry.
type chatLimiter struct {
	every rate.Limit
	burst int

	mu sync.Mutex
	m  map[string]*rate.Limiter
}

// newChatLimiter returns nil (no limit) when perSecond <= 0.
func newChatLimiter(perSecond float64, burst int) *chatLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &chatLimiter{every: rate.Limit(perSecond), burst: burst, m: make(map[string]*rate.Limiter)}
}

func (l *chatLimiter) allow(chat string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.m[chat]
	if !ok {
		if len(l.m) >= maxLimitedChats {
			// 简单粗暴：满了就整体重置
			l.m = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.every, l.burst)
		l.m[chat] = lim
	}
	return lim.Allow()
}
