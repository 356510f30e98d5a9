// Package routes declares HTTP routes as data and registers them on a
// ServeMux.
package routes

import "net/http"

// Route binds an HTTP method and path pattern to a handler. Pattern may
// use ServeMux wildcards such as {id}.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}
