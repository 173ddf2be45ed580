// Package api provides the HTTP surface of the runtime guard: one-shot
// monitor evaluations and orchestrated session runs.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ShirePyDev/runtime-agent-guard/internal/config"
	"github.com/ShirePyDev/runtime-agent-guard/internal/monitor"
	"github.com/ShirePyDev/runtime-agent-guard/internal/orchestrator"
	"github.com/ShirePyDev/runtime-agent-guard/internal/telemetry"
)

// RouterDeps holds dependencies for router initialization.
type RouterDeps struct {
	Monitor      *monitor.Monitor
	Orchestrator *orchestrator.Orchestrator
	Telemetry    *telemetry.Provider
	// StopRateLimiter is set by NewRouter. Call it during graceful shutdown
	// to stop the rate limiter's background cleanup goroutine.
	StopRateLimiter func()
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, deps *RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	// Safe default: do not trust any proxy headers (X-Forwarded-For, etc.)
	// Production should configure trusted proxy CIDRs explicitly.
	r.SetTrustedProxies(nil)
	r.Use(gin.Recovery())
	r.Use(securityHeadersMiddleware())
	r.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20) // 1MB
		c.Next()
	})
	if deps.Telemetry != nil {
		if httpMetrics, err := deps.Telemetry.NewHTTPMetrics(); err != nil {
			log.Warn().Err(err).Msg("failed to initialize HTTP metrics")
		} else {
			r.Use(httpMetrics.Middleware(deps.Telemetry.Tracer()))
		}
	}

	h := NewHandlers(deps.Monitor, deps.Orchestrator)

	r.GET("/health", healthCheck)
	r.GET("/ready", makeReadinessCheck(deps))

	rl := newRateLimiter(100, time.Minute)
	deps.StopRateLimiter = rl.Stop

	v1 := r.Group("/api/v1")
	// Middleware order: Auth before rate limiting so unauthenticated
	// requests are rejected before consuming rate limit budget.
	v1.Use(bearerTokenMiddleware(cfg.Server.BearerToken))
	v1.Use(rateLimitMiddleware(rl))
	{
		v1.POST("/evaluate", h.Evaluate)
		v1.POST("/runs", h.Run)
	}

	return r
}

// rateLimiter implements a simple in-memory sliding window rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop terminates the cleanup goroutine.
func (rl *rateLimiter) Stop() {
	close(rl.done)
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	timestamps := rl.visitors[key]
	valid := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= rl.limit {
		rl.visitors[key] = valid
		return false
	}

	rl.visitors[key] = append(valid, now)
	return true
}

func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			cutoff := now.Add(-rl.window)
			for key, timestamps := range rl.visitors {
				valid := make([]time.Time, 0, len(timestamps))
				for _, ts := range timestamps {
					if ts.After(cutoff) {
						valid = append(valid, ts)
					}
				}
				if len(valid) == 0 {
					delete(rl.visitors, key)
				} else {
					rl.visitors[key] = valid
				}
			}
			rl.mu.Unlock()
		}
	}
}

// securityHeadersMiddleware adds security response headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Next()
	}
}

func rateLimitMiddleware(rl *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Key on bearer token identity when present; per-IP rate limits
		// break behind NAT.
		key := c.ClientIP()
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token := strings.TrimPrefix(auth, "Bearer ")
			if len(token) >= 8 {
				// Use last 8 chars as key suffix to avoid storing full tokens in memory.
				key = "bearer:" + token[len(token)-8:]
			}
		}

		if !rl.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// bearerTokenMiddleware enforces a static bearer token when one is
// configured. An empty token leaves the API open; only acceptable for
// local development, so it logs loudly.
func bearerTokenMiddleware(token string) gin.HandlerFunc {
	if token == "" {
		log.Warn().Msg("server.bearer_token is not configured — API is unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}
	if len(token) < 32 {
		log.Warn().Int("token_len", len(token)).
			Msg("server.bearer_token is shorter than 32 chars — consider using a stronger token")
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		provided := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Health endpoints

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func makeReadinessCheck(deps *RouterDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		ready := true

		if deps == nil || deps.Monitor == nil {
			checks["monitor"] = "unavailable"
			ready = false
		} else {
			checks["monitor"] = "ok"
		}
		if deps == nil || deps.Orchestrator == nil {
			checks["orchestrator"] = "unavailable"
			ready = false
		} else {
			checks["orchestrator"] = "ok"
		}

		status := http.StatusOK
		statusStr := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			statusStr = "degraded"
		}

		c.JSON(status, gin.H{
			"status":    statusStr,
			"checks":    checks,
			"timestamp": time.Now().UTC(),
		})
	}
}
