package httpx

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
)

// SecurityHeadersMiddleware applies baseline hardening headers to webhook responses.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a panic into a 200 with a generic body.
// Webhook senders redeliver on 5xx, so a fault must never surface as one.
func RecoverMiddleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("%s panic on %s %s: %v\n%s", service, r.Method, r.URL.Path, rec, debug.Stack())
					WriteText(w, http.StatusOK, "Request could not be processed")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WriteJSON is used for health and metrics documents.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteText answers Slack and webhook callers, which display the body verbatim.
func WriteText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
