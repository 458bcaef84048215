package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"filevault/internal/server/database"
	"filevault/internal/server/service"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// visitor tracks the rate limit state for a single IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-IP token-bucket rate limiter.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a rate limiter with the given rate (requests/sec) and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Middleware returns an echo middleware function that enforces rate limits.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !rl.allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", c.Path())
				return writeError(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later")
			}
			return next(c)
		}
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > 5*time.Minute {
		rl.sweep(now)
	}

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep forgets visitors idle for more than ten minutes.
func (rl *RateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-10 * time.Minute)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
	rl.lastSweep = now
}

// RequestLogger returns an echo middleware that logs requests using slog.
// The level rises with the response status. Share tokens never reach the log.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			path := req.URL.Path
			if c.Param("token") != "" {
				path = c.Path()
			}

			attrs := []any{
				"method", req.Method,
				"path", path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_out", res.Size,
			}
			if u, ok := c.Get(userContextKey).(*database.User); ok {
				attrs = append(attrs, "user_id", u.ID)
			}
			slog.Log(req.Context(), levelForStatus(res.Status), "request", attrs...)

			return nil
		}
	}
}

func levelForStatus(code int) slog.Level {
	if code >= 500 {
		return slog.LevelError
	}
	if code >= 400 {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Access classifies who may call a route.
type Access int

const (
	// AccessPublic routes need no session.
	AccessPublic Access = iota
	// AccessAuthenticated routes need any valid session.
	AccessAuthenticated
	// AccessOwner routes need the session user to match the :user path
	// parameter, or an admin.
	AccessOwner
	// AccessAdmin routes need an admin session.
	AccessAdmin
)

func (a Access) String() string {
	switch a {
	case AccessPublic:
		return "public"
	case AccessAuthenticated:
		return "authenticated"
	case AccessOwner:
		return "owner"
	case AccessAdmin:
		return "admin"
	default:
		return "Access(" + strconv.Itoa(int(a)) + ")"
	}
}

const userContextKey = "user"

// gate enforces an access level and stores the session user in the context.
func (h *Handler) gate(a Access) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a == AccessPublic {
				return next(c)
			}

			user, err := h.sessionUser(c)
			if err != nil {
				return mapServiceError(c, err)
			}

			switch a {
			case AccessAdmin:
				if !user.IsAdmin() {
					return mapServiceError(c, service.ErrForbidden)
				}
			case AccessOwner:
				ownerID, err := pathID(c, "user")
				if err != nil {
					return mapServiceError(c, err)
				}
				if user.ID != ownerID && !user.IsAdmin() {
					return mapServiceError(c, service.ErrForbidden)
				}
			}

			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

func (h *Handler) sessionUser(c echo.Context) (*database.User, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, service.ErrUnauthorized
	}
	return h.users.Authenticate(c.Request().Context(), strings.TrimSpace(token))
}

// currentUser returns the user stored by gate.
func currentUser(c echo.Context) *database.User {
	u, _ := c.Get(userContextKey).(*database.User)
	return u
}
