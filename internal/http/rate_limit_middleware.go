package httpx

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/splax/apitrail/pkg/ratelimit"
)

const (
	limiterSweepInterval = 5 * time.Minute
	defaultLimiterWindow = time.Minute
)

// RateLimiter decides whether a caller identified by key may proceed within the current window.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// localLimiter keeps one fixed-window counter per caller key inside this process.
type localLimiter struct {
	mu      sync.Mutex
	windows map[string]*callerWindow
	stop    chan struct{}
	once    sync.Once
}

type callerWindow struct {
	counter  *ratelimit.FixedWindow
	lastSeen time.Time
}

// NewMemoryRateLimiter returns a process-local limiter. Callers idle for a full window are forgotten.
func NewMemoryRateLimiter() RateLimiter {
	l := &localLimiter{
		windows: make(map[string]*callerWindow),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *localLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = defaultLimiterWindow
	}
	now := time.Now()

	l.mu.Lock()
	cw, ok := l.windows[key]
	if !ok || cw.counter.Limit() != limit || cw.counter.Window() != window {
		cw = &callerWindow{counter: ratelimit.New(limit, ratelimit.WithWindow(window))}
		l.windows[key] = cw
	}
	cw.lastSeen = now
	l.mu.Unlock()

	d := cw.counter.Acquire()
	return rateDecision{allowed: d.Allowed, count: d.Count, windowEnd: now.Add(d.ResetIn)}
}

func (l *localLimiter) sweep() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.forgetIdle(now)
		case <-l.stop:
			return
		}
	}
}

func (l *localLimiter) forgetIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, cw := range l.windows {
		if now.Sub(cw.lastSeen) > cw.counter.Window() {
			delete(l.windows, key)
		}
	}
}

func (l *localLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// limited guards next with a per-caller budget for route. Budgets are tracked per route, so a
// caller exhausting ingest does not lose access to the read API.
func (r *Router) limited(route string, limit int, window time.Duration, caller func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		id := caller(req)
		if id == "" {
			id = callerByAddr(req)
		}
		decision := r.limiter.Allow(id+"@"+route, limit, window)
		r.applyRateHeaders(w, limit, decision)
		if decision.allowed {
			next(w, req)
			return
		}
		r.recordRateLimitHit(route, callerKind(id))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	}
}

// handlerAuthRate authenticates the request and budgets it per user.
func (r *Router) handlerAuthRate(route string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.limited(route, limit, window, callerByUser, next))
}

// handlerIPRate budgets anonymous requests per remote address.
func (r *Router) handlerIPRate(route string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return r.limited(route, limit, window, callerByAddr, next)
}

// handlerIngestRate budgets log producers by the ingest token they present, falling back to the
// remote address for producers without one.
func (r *Router) handlerIngestRate(route string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return r.limited(route, limit, window, callerByIngestToken, next)
}

func callerByUser(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.UserID != "" {
		return "user:" + info.UserID
	}
	return ""
}

func callerByIngestToken(req *http.Request) string {
	token := strings.TrimSpace(req.Header.Get(ingestTokenHeader))
	if token == "" {
		return ""
	}
	// Only a fingerprint of the secret ends up in limiter keys.
	sum := sha256.Sum256([]byte(token))
	return "ingest:" + hex.EncodeToString(sum[:8])
}

func callerByAddr(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// callerKind reduces a caller id to its kind so metric labels stay bounded.
func callerKind(id string) string {
	if kind, _, ok := strings.Cut(id, ":"); ok && kind != "" {
		return kind
	}
	return "unknown"
}
