package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/uxmcp/uxmcp/pkg/routetable"
)

// dynamicDispatch serves every service route mounted in the table (§6's
// "/{service.route}" entry). Routes are activated/deactivated at runtime,
// so they can't live in chi's static tree; instead this single catch-all
// walks the table's current snapshot and matches the incoming path against
// each entry's pattern, the same "{name}" placeholder syntax chi itself
// uses for its static routes.
func dynamicDispatch(table *routetable.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, entry := range table.All() {
			if entry.Method != r.Method {
				continue
			}
			params, ok := matchPattern(entry.Pattern, r.URL.Path)
			if !ok {
				continue
			}
			rctx := chi.NewRouteContext()
			for name, value := range params {
				rctx.URLParams.Add(name, value)
			}
			ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
			entry.Handler.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		http.NotFound(w, r)
	}
}

// matchPattern matches path against a chi-style pattern ("/users/{id}"),
// one placeholder per path segment, and returns the bound values.
func matchPattern(pattern, path string) (map[string]string, bool) {
	patternSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	pathSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(patternSegs) != len(pathSegs) {
		return nil, false
	}
	params := make(map[string]string, len(patternSegs))
	for i, seg := range patternSegs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params[seg[1:len(seg)-1]] = pathSegs[i]
			continue
		}
		if seg != pathSegs[i] {
			return nil, false
		}
	}
	return params, true
}
