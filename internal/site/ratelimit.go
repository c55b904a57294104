package site

import (
	"net"
	"net/http"
	"time"

	"github.com/karlseguin/ccache/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/0xkiire/coredumped/internal/metrics"
)

const (
	// sourceIPItems bounds how many clients are tracked at once
	sourceIPItems = 5000
	// sourceIPExpiration forgets clients idle for longer
	sourceIPExpiration = time.Minute
)

// rateLimiter keeps a token bucket per source IP in an LRU
type rateLimiter struct {
	now      func() time.Time
	limit    rate.Limit
	burst    int
	limiters *ccache.Cache
}

func newRateLimiter(limitPerSecond float64, burst int) *rateLimiter {
	configuration := ccache.Configure()
	configuration.MaxSize(sourceIPItems)
	configuration.ItemsToPrune(sourceIPItems / 16)

	return &rateLimiter{
		now:      time.Now,
		limit:    rate.Limit(limitPerSecond),
		burst:    burst,
		limiters: ccache.New(configuration),
	}
}

// allowed takes one token from the bucket of sourceIP
func (rl *rateLimiter) allowed(sourceIP string) bool {
	item, err := rl.limiters.Fetch(sourceIP, sourceIPExpiration, func() (interface{}, error) {
		return rate.NewLimiter(rl.limit, rl.burst), nil
	})
	if err != nil {
		return true
	}
	return item.Value().(*rate.Limiter).AllowN(rl.now(), 1)
}

func (rl *rateLimiter) middleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP := remoteAddrWithoutPort(r)
		if !rl.allowed(sourceIP) {
			metrics.APIRateLimited.Inc()
			logrus.WithFields(logrus.Fields{
				"source_ip": sourceIP,
				"req_path":  r.URL.Path,
			}).Info("Source IP hit rate limit")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func remoteAddrWithoutPort(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
