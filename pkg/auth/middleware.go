package auth

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"flock/pkg/logger"
	"flock/pkg/utils"
)

// limited endpoints get per-IP throttling; everything else passes through.
var limitedPaths = map[string]struct{}{
	"/login":          {},
	"/signup":         {},
	"/changepassword": {},
}

// Middleware logs requests, answers CORS preflight (chat clients are
// browser apps on arbitrary origins) and rate limits credential endpoints
// per client IP.
func Middleware(cfg LimitConfig) func(http.Handler) http.Handler {
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.LogRequest(r)

			if origin := r.Header.Get("Origin"); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "600")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if _, ok := limitedPaths[r.URL.Path]; ok {
				ip := clientIP(r)
				if !limiters.Allow(ip) {
					logger.Warn("rate_limited", zap.String("ip", ip), zap.String("path", r.URL.Path))
					utils.JSONError(w, http.StatusTooManyRequests, "rate limited")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
