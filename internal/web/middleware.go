package web

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/avoronov/sdbridge/common/trace"
)

// requestIDMiddleware assigns a correlation id to every request, echoing the
// caller's X-Request-ID when present.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(trace.Header)
		if id == "" {
			id = trace.NewRequestID()
		}
		w.Header().Set(trace.Header, id)
		next.ServeHTTP(w, r.WithContext(trace.WithRequestID(r.Context(), id)))
	})
}

// adminAuth guards the admin endpoints with a shared bearer token compared in
// constant time. An empty configured token disables the endpoints outright.
func (s *Server) adminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeError(w, http.StatusUnauthorized, "admin endpoints disabled: CONFIG_ADMIN_TOKEN not set")
			return
		}
		token, ok := bearerToken(r)
		if !ok || !tokensEqual(token, s.cfg.AdminToken) {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

// tokensEqual hashes both sides first so the comparison is constant-time
// regardless of length.
func tokensEqual(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	x := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], x[:]) == 1
}
