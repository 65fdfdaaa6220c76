package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientKey(t *testing.T) {
	proxies := newProxySet([]string{"10.0.0.1", "172.16.0.0/12", "not-an-ip"})

	tests := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"direct client", "203.0.113.7:51000", "", "203.0.113.7"},
		{"untrusted peer cannot choose its key", "203.0.113.7:51000", "198.51.100.1", "203.0.113.7"},
		{"trusted proxy", "10.0.0.1:40000", "198.51.100.1", "198.51.100.1"},
		{"spoofed hop ahead of real client", "10.0.0.1:40000", "1.2.3.4, 198.51.100.1", "198.51.100.1"},
		{"chain of trusted proxies", "10.0.0.1:40000", "198.51.100.1, 172.16.4.2", "198.51.100.1"},
		{"garbage hop", "10.0.0.1:40000", "unknown", "10.0.0.1"},
		{"remote without port", "203.0.113.7", "", "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/jobs/mappings", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, clientKey(req, proxies))
		})
	}
}
