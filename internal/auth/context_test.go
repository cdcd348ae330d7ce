package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEnforcePersonScope(t *testing.T) {
	ctx := context.Background()
	if err := EnforcePersonScope(ctx, 7); err != nil {
		t.Fatalf("unscoped context should accept any person: %v", err)
	}
	if err := EnforcePersonScope(ctx, 0); err == nil {
		t.Fatalf("expected error for missing person id")
	}

	scoped := ContextWithPersonID(ctx, 7)
	if err := EnforcePersonScope(scoped, 7); err != nil {
		t.Fatalf("matching person rejected: %v", err)
	}
	if err := EnforcePersonScope(scoped, 8); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestPersonMiddleware(t *testing.T) {
	var seen int64
	var ok bool
	handler := PersonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, ok = PersonIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/batch_upload", nil)
	req.Header.Set(PersonHeader, "42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !ok || seen != 42 {
		t.Fatalf("expected person 42 in context, got %d (%v)", seen, ok)
	}

	req = httptest.NewRequest(http.MethodPost, "/batch_upload", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if ok {
		t.Fatalf("expected no person without header")
	}

	req = httptest.NewRequest(http.MethodPost, "/batch_upload", nil)
	req.Header.Set(PersonHeader, "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed header, got %d", rec.Code)
	}
}
