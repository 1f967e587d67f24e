package rpcserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"chatvector/internal/model"
)

// checkBearer extracts and constant-time-compares the Authorization header
// against the configured key whitelist (spec §4.9). It returns the matched
// key as the session subject, or "" if absent/malformed/not whitelisted.
func checkBearer(r *http.Request, whitelist []string) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	token := strings.TrimPrefix(h, prefix)
	if len(token) != model.BearerKeyLength || !strings.HasPrefix(token, model.BearerKeyPrefix) {
		return ""
	}
	for _, want := range whitelist {
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1 {
			return token
		}
	}
	return ""
}
