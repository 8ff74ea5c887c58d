// Package auth holds the static shared-secret checks used by webhooks that
// cannot carry a request signature.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/alternativc/chatbot/pkg/httpx"
)

// HeaderEquals reports whether header name carries exactly want. An empty
// want never matches.
func HeaderEquals(r *http.Request, name, want string) bool {
	if strings.TrimSpace(name) == "" || want == "" {
		return false
	}
	got := r.Header.Get(name)
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// RequireHeader rejects requests whose header does not match with 401 and a
// plain-text body.
func RequireHeader(name, want, body string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HeaderEquals(r, name, want) {
				httpx.WriteText(w, http.StatusUnauthorized, body)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
