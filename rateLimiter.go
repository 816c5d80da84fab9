package amaterasu

import (
	"context"
	"time"

	"github.com/sasha-s/go-csync"
)

// RateLimiter paces outbound gateway frames. Wait blocks until a send
// slot is free and holds the limiter until Unlock, so the caller's write
// happens inside the slot it acquired. WaitHeartbeat may dip into the
// reserved allowance so supervision never starves behind caller traffic.
type RateLimiter interface {
	Close(ctx context.Context)
	Reset()
	Wait(ctx context.Context) error
	WaitHeartbeat(ctx context.Context) error
	Unlock()
}

func NewRateLimiter(opts ...RateLimiterConfigOpt) RateLimiter {
	config := DefaultRateLimiterConfig()
	config.Apply(opts)

	return &rateLimiterImpl{
		config: *config,
	}
}

type rateLimiterImpl struct {
	mu csync.Mutex

	reset     time.Time
	remaining int

	config RateLimiterConfig
}

func (l *rateLimiterImpl) Close(ctx context.Context) {
	_ = l.mu.CLock(ctx)
}

func (l *rateLimiterImpl) Reset() {
	l.reset = time.Time{}
	l.remaining = 0
	l.mu = csync.Mutex{}
}

func (l *rateLimiterImpl) Wait(ctx context.Context) error {
	return l.wait(ctx, l.config.HeartbeatReserve)
}

func (l *rateLimiterImpl) WaitHeartbeat(ctx context.Context) error {
	return l.wait(ctx, 0)
}

func (l *rateLimiterImpl) wait(ctx context.Context, reserve int) error {
	for {
		if err := l.mu.CLock(ctx); err != nil {
			return err
		}

		now := time.Now()
		if !l.reset.After(now) {
			l.reset = now.Add(time.Minute)
			l.remaining = l.config.SendsPerMinute
		}
		if l.remaining > reserve {
			return nil
		}

		// Budget spent for this caller. Park outside the mutex so the
		// reserved slots stay reachable for heartbeats while we sleep.
		reset := l.reset
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(reset)):
		}
	}
}

func (l *rateLimiterImpl) Unlock() {
	if l.remaining > 0 {
		l.remaining--
	}
	l.mu.Unlock()
}

func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		SendsPerMinute:   defaultSendsPerMinute,
		HeartbeatReserve: heartbeatReserve,
	}
}

type RateLimiterConfig struct {
	SendsPerMinute   int
	HeartbeatReserve int
}

type RateLimiterConfigOpt func(config *RateLimiterConfig)

func (c *RateLimiterConfig) Apply(opts []RateLimiterConfigOpt) {
	for _, opt := range opts {
		opt(c)
	}
}

func WithSendsPerMinute(sendsPerMinute int) RateLimiterConfigOpt {
	return func(config *RateLimiterConfig) {
		config.SendsPerMinute = sendsPerMinute
	}
}

func WithHeartbeatReserve(reserve int) RateLimiterConfigOpt {
	return func(config *RateLimiterConfig) {
		config.HeartbeatReserve = reserve
	}
}
