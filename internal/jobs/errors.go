package jobs

import (
	"errors"
	"net/http"
)

// Domain errors for job and card operations.
var (
	ErrNotFound          = errors.New("job not found")
	ErrCardNotFound      = errors.New("question card not found")
	ErrDuplicate         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid card state transition")
	ErrInvalidPage       = errors.New("page index out of range")
	ErrInvalidFilter     = errors.New("invalid job filter")
)

// MapHTTPStatus maps job domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCardNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidPage), errors.Is(err, ErrInvalidFilter):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
