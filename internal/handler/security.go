package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// apiKeyHeader carries the admin API key.
const apiKeyHeader = "X-API-Key"

// requireScope authenticates the request's API key and checks it grants the
// named scope. Keys are stored as HMAC-SHA256(pepper, key) so a leaked
// database dump alone cannot be replayed against the API.
func (h *Handler) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			mac := hmac.New(sha256.New, h.pepper)
			mac.Write([]byte(key))
			sum := mac.Sum(nil)

			info, err := h.apikeys.FindByHash(r.Context(), hex.EncodeToString(sum))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			// The lookup already matched, but the stored hash could differ from
			// what we computed if the repository returned a stale or wrong row.
			stored, err := hex.DecodeString(info.KeyHash)
			if err != nil || subtle.ConstantTimeCompare(sum, stored) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if !info.HasScope(scope) {
				writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
