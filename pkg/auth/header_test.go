package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHeaderEquals(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"match", "s3cret", "s3cret", true},
		{"mismatch", "other", "s3cret", false},
		{"prefix", "s3cre", "s3cret", false},
		{"missing", "", "s3cret", false},
		{"empty want", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.header != "" {
				r.Header.Set("auth", tc.header)
			}
			if got := HeaderEquals(r, "auth", tc.want); got != tc.ok {
				t.Fatalf("got %v want %v", got, tc.ok)
			}
		})
	}
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("auth", "x")
	if HeaderEquals(r, " ", "x") {
		t.Fatal("blank header name must not match")
	}
}

func TestRequireHeader(t *testing.T) {
	called := false
	h := RequireHeader("auth", "s3cret", "Invalid auth header")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusUnauthorized || rec.Body.String() != "Invalid auth header" || called {
		t.Fatalf("unexpected rejection %d %q", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Auth", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !called {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}
