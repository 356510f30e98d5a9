package routes

import "net/http"

// Group is a set of routes sharing a path prefix. Children nest under the
// parent prefix.
type Group struct {
	Prefix   string
	Routes   []Route
	Children []Group
}

// Register adds every route of groups to mux and returns the registered
// patterns in order. The mux panics on conflicting patterns.
func Register(mux *http.ServeMux, groups ...Group) []string {
	var registered []string
	for _, g := range groups {
		g.walk("", func(pattern string, h http.HandlerFunc) {
			mux.HandleFunc(pattern, h)
			registered = append(registered, pattern)
		})
	}
	return registered
}

func (g Group) walk(parent string, fn func(pattern string, h http.HandlerFunc)) {
	prefix := parent + g.Prefix
	for _, r := range g.Routes {
		fn(r.Method+" "+prefix+r.Pattern, r.Handler)
	}
	for _, child := range g.Children {
		child.walk(prefix, fn)
	}
}
