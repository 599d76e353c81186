// Package routetable holds the copy-on-write map from (method, route) to
// the mounted service's handler descriptor. Readers (request dispatch)
// never block on writers (activate/deactivate) and vice versa — each
// Mount/Unmount builds a fresh map and atomically swaps a pointer to it,
// rather than taking a lock readers must also take.
package routetable

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one Route Table Entry per §3: it stores the route pattern as
// given and carries everything the HTTP surface needs to dispatch.
type Entry struct {
	Method    string
	Pattern   string // e.g. "/math/add" or "/users/{id}"
	ServiceID string
	Handler   http.Handler
	MountedAt time.Time
}

type key struct {
	method  string
	pattern string
}

// Table is the registry's dynamic route surface. The zero value is not
// usable; use New.
type Table struct {
	mu  sync.Mutex // serialises writers only; readers use the atomic snapshot
	cur atomic.Pointer[map[key]*Entry]
}

func New() *Table {
	t := &Table{}
	empty := make(map[key]*Entry)
	t.cur.Store(&empty)
	return t
}

// Lookup is the hot read path: one atomic load, one map read, no locking.
func (t *Table) Lookup(method, pattern string) (*Entry, bool) {
	m := *t.cur.Load()
	e, ok := m[key{method, pattern}]
	return e, ok
}

// Conflicts reports whether (method, pattern) is already owned by a
// different service — used by Registry.ActivateService to raise RouteConflict
// before mounting.
func (t *Table) Conflicts(method, pattern, serviceID string) bool {
	m := *t.cur.Load()
	e, ok := m[key{method, pattern}]
	return ok && e.ServiceID != serviceID
}

// Mount adds (or replaces, for the same serviceID) a route. Callers must
// have already checked Conflicts under the registry's per-entity
// serialisation — Mount itself only serialises against other writers, not
// against Lookup.
func (t *Table) Mount(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := *t.cur.Load()
	next := make(map[key]*Entry, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	e.MountedAt = time.Now()
	next[key{e.Method, e.Pattern}] = e
	t.cur.Store(&next)
}

// Unmount removes the route at (method, pattern), if any, whichever
// service owns it.
// After Unmount returns, Lookup will never again match this route; any
// request already dispatched to the handler before the swap completes
// normally (the swap doesn't interrupt in-flight handlers).
func (t *Table) Unmount(method, pattern string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := *t.cur.Load()
	if _, ok := old[key{method, pattern}]; !ok {
		return
	}
	next := make(map[key]*Entry, len(old))
	for k, v := range old {
		if k == (key{method, pattern}) {
			continue
		}
		next[k] = v
	}
	t.cur.Store(&next)
}

// All returns a snapshot of every mounted entry, for introspection/MCP
// surface derivation.
func (t *Table) All() []*Entry {
	m := *t.cur.Load()
	out := make([]*Entry, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
