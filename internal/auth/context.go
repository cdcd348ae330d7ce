package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const personIDKey contextKey = "personID"

// PersonHeader carries the id of the authenticated person, set by the fronting proxy.
const PersonHeader = "X-Person-ID"

// ContextWithPersonID returns a new context that carries the authenticated person.
func ContextWithPersonID(ctx context.Context, id int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, personIDKey, id)
}

// PersonIDFromContext retrieves the authenticated person from the context, if any.
func PersonIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(personIDKey).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// EnforcePersonScope ensures the submitting person matches the authenticated
// person when one is present.
func EnforcePersonScope(ctx context.Context, personID int64) error {
	if personID <= 0 {
		return fmt.Errorf("person_id is required")
	}
	scopedID, ok := PersonIDFromContext(ctx)
	if !ok {
		return nil
	}
	if scopedID != personID {
		return fmt.Errorf("person_id %d does not match authenticated person", personID)
	}
	return nil
}

// PersonMiddleware copies a valid PersonHeader into the request context.
// Malformed values are rejected.
func PersonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(PersonHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid "+PersonHeader+" header", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPersonID(r.Context(), id)))
	})
}
