// ABOUTME: Feynmand is the reference remote store for the progress sync engine.
// ABOUTME: Serves one progress and one profile record per user over PocketBase.

package main

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"

	_ "github.com/mustafaocakxyz/feynman-sync/cmd/feynmand/migrations" // Import migrations
)

// Server bundles state for feynmand handlers.
type Server struct {
	app        core.App
	tokenHash  [32]byte          // sha256 of the shared bearer token, empty token disables auth
	hasToken   bool
	userLimits *rateLimiterStore // Per-user rate limiting for record endpoints
	ipLimits   *rateLimiterStore // Per-IP rate limiting as the outer guard
}

func main() {
	app := pocketbase.New()

	srv := &Server{
		app:        app,
		userLimits: newRateLimiterStore(DefaultRateLimitConfig()),
		ipLimits:   newRateLimiterStore(IPRateLimitConfig()),
	}
	if token := strings.TrimSpace(os.Getenv("FEYNMAND_TOKEN")); token != "" {
		srv.tokenHash = sha256.Sum256([]byte(token))
		srv.hasToken = true
	} else {
		log.Print("FEYNMAND_TOKEN not set; serving without authentication")
	}

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		srv.registerRoutes(se.Router)
		return se.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

func (s *Server) registerRoutes(r *router.Router[*core.RequestEvent]) {
	r.GET("/healthz", func(e *core.RequestEvent) error {
		return e.NoContent(http.StatusOK)
	})

	// Record endpoints (protected). The trailing slash keeps the user id
	// a path segment the handler extracts itself.
	r.Any("/v1/progress/{path...}", s.wrapHandler(s.withIPRateLimit(s.withAuth(s.handleProgress))))
	r.Any("/v1/profile/{path...}", s.wrapHandler(s.withIPRateLimit(s.withAuth(s.handleProfile))))
}

// wrapHandler converts http.HandlerFunc to PocketBase RequestHandler.
func (s *Server) wrapHandler(h http.HandlerFunc) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		h(e.Response, e.Request)
		return nil
	}
}

// withIPRateLimit is the outer guard against unauthenticated stampedes.
func (s *Server) withIPRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.ipLimits != nil {
			limiter := s.ipLimits.get(getClientIP(r))
			if !limiter.Allow() {
				fail(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next(w, r)
	}
}

// withAuth validates the shared bearer token. The comparison runs over
// sha256 digests so the token length never leaks through timing.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.hasToken {
			next(w, r)
			return
		}
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			fail(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		sum := sha256.Sum256([]byte(raw))
		if subtle.ConstantTimeCompare(sum[:], s.tokenHash[:]) != 1 {
			fail(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

// userFromPath extracts the user id segment and applies the per-user
// rate limit. An empty id or a nested path is a bad request.
func (s *Server) userFromPath(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	userID := strings.TrimPrefix(r.URL.Path, prefix)
	if userID == "" || strings.Contains(userID, "/") {
		fail(w, http.StatusBadRequest, "user id required")
		return "", false
	}
	if s.userLimits != nil {
		limiter := s.userLimits.get(userID)
		if !limiter.Allow() {
			fail(w, http.StatusTooManyRequests, "rate limit exceeded")
			return "", false
		}
	}
	return userID, true
}

// helpers

func ok(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func fail(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{"error": msg}); err != nil {
		log.Printf("write error response: %v", err)
	}
}
