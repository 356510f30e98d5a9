package storage

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound   = errors.New("storage: blob not found")
	ErrEmptyKey   = errors.New("storage: empty key")
	ErrInvalidKey = errors.New("storage: key escapes its prefix")
)

// MapHTTPStatus translates storage errors for handlers that surface blobs
// directly.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyKey), errors.Is(err, ErrInvalidKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
