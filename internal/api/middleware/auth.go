package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
)

// debugUsername and debugPassword gate the debug/pprof endpoints.
// Read from DEBUG_USERNAME and DEBUG_PASSWORD; if unset, debug endpoints
// are open without credentials when ENV is "development" or unset, and
// refused otherwise.
var (
	debugUsername = os.Getenv("DEBUG_USERNAME")
	debugPassword = os.Getenv("DEBUG_PASSWORD")
)

// DebugAuth protects /debug/pprof and /debug/runtime with HTTP Basic Auth.
func DebugAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if debugUsername == "" || debugPassword == "" {
			if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Debug endpoints disabled. Set DEBUG_USERNAME and DEBUG_PASSWORD.", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(debugUsername)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(debugPassword)) == 1
		if !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Auth is a pass-through placeholder. The control/dashboard API is built
// for a single local operator, not multi-tenant access, so there is no
// token issuance or session store to check against; requests reach the
// handler unauthenticated. Kept as a named middleware so a token check
// can be slotted in later without touching route wiring.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
	})
}

// OptionalAuth behaves identically to Auth: no-op for the single-operator
// deployment, kept distinct so routes that intend "auth optional" aren't
// coupled to routes that intend "auth required" once one is implemented.
func OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
	})
}
