package gateway

import (
	"sync"
	"time"
)

// RateLimiter 控制请求速率，避免触发交易所限流。
// Wait 用于写出协程的阻塞节流，Allow 用于路由层的非阻塞预算检查。
type RateLimiter interface {
	Wait()
	Allow() bool
}

// TokenBucketLimiter 是一个简单的令牌桶实现。
type TokenBucketLimiter struct {
	rate   float64
	burst  int
	tokens float64
	last   time.Time
	now    func() time.Time
	sleep  func(time.Duration)
	mu     sync.Mutex
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   time.Now(),
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

func (l *TokenBucketLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	if elapsed > 0 {
		l.tokens += elapsed * l.rate
	}
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

// Allow 有令牌则消耗一个并返回 true，否则立即返回 false。
func (l *TokenBucketLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Wait 阻塞直到取得令牌。
func (l *TokenBucketLimiter) Wait() {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return
		}
		sleep := time.Duration((1-l.tokens)/l.rate*float64(time.Second)) + time.Millisecond
		l.mu.Unlock()
		l.sleep(sleep)
	}
}
