package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/vitalsync/internal/lists"
)

// listContextKey is the context key for the resolved list.
type listContextKey struct{}

// ErrNoListInContext indicates no list was found in the context.
var ErrNoListInContext = errors.New("no list in context")

// WithList returns a new context with the list attached.
func WithList(ctx context.Context, l *lists.List) context.Context {
	return context.WithValue(ctx, listContextKey{}, l)
}

// ListFromContext extracts the list from the context.
// Returns ErrNoListInContext if not present or nil.
func ListFromContext(ctx context.Context) (*lists.List, error) {
	l, ok := ctx.Value(listContextKey{}).(*lists.List)
	if !ok || l == nil {
		return nil, ErrNoListInContext
	}
	return l, nil
}

// ListMiddleware resolves the {list} URL parameter against registry and
// attaches the list to the request context.
func ListMiddleware(registry *lists.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l, err := registry.Get(chi.URLParam(r, "list"))
			if err != nil {
				MapListError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithList(r.Context(), l)))
		})
	}
}
