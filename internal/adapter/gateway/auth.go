package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// adminAuth guards registry mutations with a static bearer token compared in
// constant time. An empty token disables the check.
func adminAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="agentlink"`)
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
					Code:    "UNAUTHORIZED",
					Message: "missing or invalid admin token",
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
