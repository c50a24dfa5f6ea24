package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthorize(t *testing.T) {
	a := BearerAuth{Enabled: true, Token: "abc123"}

	req := httptest.NewRequest("GET", "/", nil)
	if a.Authorize(req) {
		t.Fatal("expected false without header")
	}
	req.Header.Set("Authorization", "Bearer abc123")
	if !a.Authorize(req) {
		t.Fatal("expected authorized")
	}
	req.Header.Set("Authorization", "Bearer wrong")
	if a.Authorize(req) {
		t.Fatal("expected unauthorized")
	}
}

func TestAuthorizeDisabled(t *testing.T) {
	a := BearerAuth{Enabled: false, Token: "x"}
	req := httptest.NewRequest("GET", "/", nil)
	if !a.Authorize(req) {
		t.Fatal("expected auth bypass")
	}
}

func TestWrap(t *testing.T) {
	a := BearerAuth{Enabled: true, Token: "tok"}
	h := a.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
