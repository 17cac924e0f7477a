package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// RequireAPIKey wraps next with API key authentication.
//
// Behaviour:
//   - If key == "", all requests are allowed (pass-through).
//   - Otherwise the value of header is compared to key in constant time.
//   - A missing, empty, or incorrect key returns 401 with a JSON error body.
func RequireAPIKey(header, key string, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	want := []byte(key)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(header)
		if got == "" {
			unauthorized(w, "missing api key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			unauthorized(w, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
