package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/handlers"
	"github.com/ternarybob/sheetporter/internal/services/signature"
)

const requestIDHeader = "X-Request-ID"

// withMiddleware wraps the router with middleware chain
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last applied = first executed)
	handler = s.recoveryMiddleware(handler)
	handler = s.rateLimitMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.securityHeadersMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	return handler
}

// loggingMiddleware logs HTTP requests and responses
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = common.NewRequestID()
		}
		w.Header().Set(requestIDHeader, requestID)

		logEvent := s.app.Logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr)
		if r.URL.RawQuery != "" {
			logEvent.Str("query", r.URL.RawQuery)
		}
		logEvent.Msg("HTTP request")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.app.Logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP response")
	})
}

// securityHeadersMiddleware sets conservative response headers
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		if s.app.Config.IsProduction() {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware only admits the configured origins, or the callback receiver's origin when none are set
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]bool)
	for _, origin := range s.allowedOrigins() {
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+signature.HeaderSignature+", "+signature.HeaderTimestamp)
			w.Header().Add("Vary", "Origin")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigins() []string {
	if len(s.app.Config.Security.AllowedOrigins) > 0 {
		return s.app.Config.Security.AllowedOrigins
	}
	u, err := url.Parse(s.app.Config.Callback.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}
	return []string{u.Scheme + "://" + u.Host}
}

// rateLimitMiddleware throttles each client to security.rate_limit requests per security.rate_window
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	cfg := s.app.Config.Security
	if cfg.RateLimit <= 0 {
		return next
	}
	limiter := newClientLimiter(cfg.RateLimit, common.ParseDuration(cfg.RateWindow, 15*time.Minute))
	proxies := newProxySet(cfg.TrustedProxies)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Probes must not be starved by API traffic
		if strings.HasPrefix(r.URL.Path, "/api/health") {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.allow(clientKey(r, proxies)) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limiter.window.Seconds())))
			handlers.WriteError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type clientLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clients   map[string]*clientEntry
	lastSweep time.Time
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit int, window time.Duration) *clientLimiter {
	return &clientLimiter{
		limit:     limit,
		window:    window,
		clients:   make(map[string]*clientEntry),
		lastSweep: time.Now(),
	}
}

func (c *clientLimiter) allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastSweep) > c.window {
		for k, entry := range c.clients {
			if now.Sub(entry.lastSeen) > c.window {
				delete(c.clients, k)
			}
		}
		c.lastSweep = now
	}

	entry, ok := c.clients[key]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(rate.Every(c.window/time.Duration(c.limit)), c.limit)}
		c.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// clientKey identifies the caller by its peer address. X-Forwarded-For is only
// read when the peer is a trusted proxy; the key is then the right-most hop
// that is not itself a trusted proxy.
func clientKey(r *http.Request, proxies proxySet) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" || !proxies.contains(net.ParseIP(host)) {
		return host
	}

	hops := strings.Split(forwarded, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		ip := net.ParseIP(hop)
		if ip == nil {
			return host
		}
		if !proxies.contains(ip) {
			return ip.String()
		}
	}
	return host
}

// proxySet holds the networks allowed to set X-Forwarded-For
type proxySet []*net.IPNet

func newProxySet(entries []string) proxySet {
	var set proxySet
	for _, entry := range entries {
		if _, network, err := net.ParseCIDR(entry); err == nil {
			set = append(set, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 128
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 32
		}
		set = append(set, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return set
}

func (p proxySet) contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, network := range p {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// requireSignature admits only requests whose body and X-Timestamp carry a valid X-Signature
func (s *Server) requireSignature(next http.HandlerFunc) http.HandlerFunc {
	secret := s.app.Config.Security.HMACSecret
	verifier := signature.NewVerifier(secret, common.ParseDuration(s.app.Config.Security.SignatureTolerance, signature.DefaultTolerance))
	maxBody := s.app.Config.Security.MaxBodyBytes

	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			s.app.Logger.Error().Str("path", r.URL.Path).Msg("Signed route called but security.hmac_secret is not set")
			handlers.WriteError(w, http.StatusInternalServerError, "Server authentication is not configured")
			return
		}

		body := r.Body
		if maxBody > 0 {
			body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				handlers.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			handlers.WriteError(w, http.StatusBadRequest, "Failed to read request body")
			return
		}

		if err := verifier.Verify(data, r.Header.Get(signature.HeaderTimestamp), r.Header.Get(signature.HeaderSignature)); err != nil {
			s.app.Logger.Warn().
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Str("reason", err.Error()).
				Msg("Rejected unsigned request")
			handlers.WriteWorkerError(w, err)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(data))
		next(w, r)
	}
}

// recoveryMiddleware recovers from panics and returns 500 error
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.app.Logger.Error().
					Str("error", fmt.Sprintf("%v", err)).
					Str("path", r.URL.Path).
					Str("stack", common.GetStackTrace()).
					Msg("Panic recovered")

				handlers.WriteError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker interface for WebSocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("responseWriter does not implement http.Hijacker")
}
