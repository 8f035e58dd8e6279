package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/utils"
	"golang.org/x/time/rate"
)

// MedicLimiter keeps one token bucket per medic. Buckets idle for longer
// than idleTTL are dropped on the next sweep.
type MedicLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu       sync.Mutex
	limiters map[string]*medicBucket
	lastGC   time.Time
}

type medicBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMedicLimiter(perMinute, burst int) *MedicLimiter {
	return &MedicLimiter{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		idleTTL:  30 * time.Minute,
		limiters: make(map[string]*medicBucket),
		lastGC:   time.Now(),
	}
}

func (l *MedicLimiter) get(medicID string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > l.idleTTL {
		for id, b := range l.limiters {
			if now.Sub(b.lastSeen) > l.idleTTL {
				delete(l.limiters, id)
			}
		}
		l.lastGC = now
	}

	b, ok := l.limiters[medicID]
	if !ok {
		b = &medicBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[medicID] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Middleware rejects with 429 once a medic exhausts its bucket. It must run
// after DeviceAuthMiddleware.
func (l *MedicLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		medicID, ok := utils.GetMedicIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		now := time.Now()
		res := l.get(medicID, now).ReserveN(now, 1)
		if !res.OK() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
