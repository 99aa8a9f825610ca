// Package middleware provides HTTP middleware components for the Fletcher API.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier = 2
	maxServices             = 10000
	defaultGlobalRPS        = 1000
	defaultServiceRPS       = 100
	defaultUnAuthRPS        = 10

	// serviceWarnFraction is the fill level of the per-service map at
	// which a warning is logged.
	serviceWarnFraction = 0.8

	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
)

type (
	// RateLimiter admits or rejects a request attributed to a service.
	// The empty service name identifies unauthenticated traffic.
	RateLimiter interface {
		// Allow reports whether the request should proceed.
		Allow(service string) bool
	}

	// InMemoryRateLimiter is a token-bucket RateLimiter backed by
	// golang.org/x/time/rate. A global bucket caps total throughput;
	// beneath it each authenticated service gets its own bucket, and
	// unauthenticated traffic shares one.
	//
	// Per-service buckets are created lazily and evicted by a background
	// goroutine once idle longer than the configured timeout. Close stops
	// that goroutine.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perService      map[string]*serviceLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		serviceRPS      int
		serviceBurst    int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxServices     int
	}

	// serviceLimiter is one service's bucket plus the last time it was used.
	serviceLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter builds a limiter from config. Burst fields left
// at zero default to twice the corresponding rate.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perService:      make(map[string]*serviceLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		serviceRPS:      config.ServiceRPS,
		serviceBurst:    computeBurstCapacity(config.ServiceRPS, config.ServiceBurst),
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxServices:     config.MaxServices,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity picks the burst for a bucket: the override when
// set, otherwise burstCapacityMultiplier times the sustained rate.
func computeBurstCapacity(rps, override int) int {
	if override > 0 {
		return override
	}

	return rps * burstCapacityMultiplier
}

// Allow reports whether a request from service fits the current limits.
// The global bucket is drained first; the per-service bucket (or the
// unauthenticated bucket when service is empty) decides the rest.
func (rl *InMemoryRateLimiter) Allow(service string) bool {
	if !rl.global.Allow() {
		return false
	}

	if service == "" {
		return rl.unauthenticated.Allow()
	}

	sl := rl.limiterFor(service)

	sl.mu.Lock()
	sl.lastAccess = time.Now()
	sl.mu.Unlock()

	return sl.limiter.Allow()
}

// limiterFor returns the bucket for service, creating it on first use.
func (rl *InMemoryRateLimiter) limiterFor(service string) *serviceLimiter {
	rl.mu.RLock()
	sl, ok := rl.perService[service]
	rl.mu.RUnlock()

	if ok {
		return sl
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Recheck under the write lock, another goroutine may have won.
	if sl, ok = rl.perService[service]; ok {
		return sl
	}

	sl = &serviceLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.serviceRPS), rl.serviceBurst),
		lastAccess: time.Now(),
	}
	rl.perService[service] = sl

	if rl.maxServices > 0 {
		if count := len(rl.perService); count >= int(float64(rl.maxServices)*serviceWarnFraction) {
			slog.Warn("rate limiter tracking many services",
				"current_services", count,
				"max_services", rl.maxServices)
		}
	}

	return sl
}

// Close stops the cleanup goroutine. Close is deliberately not part of
// the RateLimiter interface; callers that own an InMemoryRateLimiter
// call it directly.
func (rl *InMemoryRateLimiter) Close() error {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)

	return nil
}

func (rl *InMemoryRateLimiter) startCleanup() {
	interval := rl.cleanupInterval
	if interval == 0 {
		interval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup drops buckets for services idle longer than the timeout.
func (rl *InMemoryRateLimiter) cleanup() {
	timeout := rl.idleTimeout
	if timeout == 0 {
		timeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for service, sl := range rl.perService {
		sl.mu.Lock()
		idle := now.Sub(sl.lastAccess) > timeout
		sl.mu.Unlock()

		if idle {
			delete(rl.perService, service)
		}
	}
}

// RateLimit rejects requests that exceed the limiter's budget with a 429
// problem response. It must sit after Authenticate in the chain so
// authenticated requests are attributed to their service; everything
// else shares the unauthenticated budget.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			service := ""
			if svcCtx, ok := GetServiceContext(r.Context()); ok {
				service = svcCtx.Service
			}

			if !limiter.Allow(service) {
				correlationID := GetCorrelationID(r.Context())

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
