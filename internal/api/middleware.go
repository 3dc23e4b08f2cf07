package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"lexrag/internal/auth"
)

type ctxKey int

const callerKey ctxKey = iota

// internalPrincipal stands in for service-to-service callers authenticated
// by the shared key; usage rows need a stable owner either way.
var internalPrincipal = auth.Principal{UserID: "internal", Role: "service"}

func withCaller(r *http.Request, p auth.Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), callerKey, p))
}

func callerFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(callerKey).(auth.Principal)
	return p
}

// withCORS is fail-closed: browser requests from origins that are not
// explicitly allowed get 403, and an empty allowlist allows nothing.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !s.originAllowed(origin) {
				writeErr(w, http.StatusForbidden, fmt.Errorf("origin not allowed"))
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Key, X-Request-Id")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			if origin == "" {
				writeErr(w, http.StatusForbidden, fmt.Errorf("origin not allowed"))
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// requireCaller admits service callers with the shared internal key or any
// caller with a valid bearer token. No configured key and no token means no
// access.
func (s *Server) requireCaller(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.internalKeyOK(r) {
			next(w, withCaller(r, internalPrincipal))
			return
		}
		if principal, err := s.bearerPrincipal(r); err == nil {
			next(w, withCaller(r, principal))
			return
		}
		writeErr(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
	}
}

// requireAdmin admits the internal key or a bearer token whose principal
// has the admin role. A valid non-admin token gets 403, not 401.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.internalKeyOK(r) {
			next(w, withCaller(r, internalPrincipal))
			return
		}
		principal, err := s.bearerPrincipal(r)
		if err != nil {
			writeErr(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
			return
		}
		if !principal.Admin() {
			writeErr(w, http.StatusForbidden, fmt.Errorf("admin role required"))
			return
		}
		next(w, withCaller(r, principal))
	}
}

func (s *Server) internalKeyOK(r *http.Request) bool {
	if s.cfg.InternalKey == "" {
		return false
	}
	got := r.Header.Get("X-Internal-Key")
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.InternalKey)) == 1
}

func (s *Server) bearerPrincipal(r *http.Request) (principal auth.Principal, err error) {
	if s.auth == nil {
		return principal, fmt.Errorf("auth service not configured")
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return principal, fmt.Errorf("missing bearer token")
	}
	return s.auth.Verify(r.Context(), strings.TrimSpace(token))
}
