// Package middleware holds the HTTP middleware shared by modules:
// panic recovery, request logging and CORS.
package middleware

import (
	"net/http"
	"slices"
)

// Func wraps a handler.
type Func = func(http.Handler) http.Handler

// System is an ordered middleware stack. The first Func added is the
// outermost wrapper.
type System interface {
	Use(mw Func)
	Apply(handler http.Handler) http.Handler
}

type chain []Func

// New creates an empty middleware System.
func New() System {
	return &chain{}
}

func (c *chain) Use(fn Func) {
	*c = append(*c, fn)
}

func (c *chain) Apply(handler http.Handler) http.Handler {
	for _, fn := range slices.Backward(*c) {
		handler = fn(handler)
	}
	return handler
}
