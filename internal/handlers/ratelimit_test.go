package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimitKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, remote: "10.0.0.1:5000", want: "join:203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, remote: "10.0.0.1:5000", want: "join:198.51.100.2"},
		{name: "remote addr", remote: "192.0.2.1:1234", want: "join:192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/groups/join", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := rateLimitKey(req, "join"); got != tt.want {
				t.Fatalf("expected %q got %q", tt.want, got)
			}
		})
	}
}
