package handlers

import (
	"net"
	"net/http"
	"strings"
)

// RateLimiter guards endpoints that can be used to guess invite codes.
type RateLimiter interface {
	Allow(key string) bool
}

// allowRequest reports whether the caller's address still has budget in scope.
// A nil limiter admits everything.
func allowRequest(limiter RateLimiter, r *http.Request, scope string) bool {
	return limiter == nil || limiter.Allow(rateLimitKey(r, scope))
}

func rateLimitKey(r *http.Request, scope string) string {
	if scope == "" {
		return clientIP(r)
	}
	return scope + ":" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
