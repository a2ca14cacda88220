package api

import (
	"errors"
	"net/http"

	"github.com/cpacia/xmrescrow/core/coreiface"
)

// errorStatus maps the error kinds returned by the node to a status code.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, coreiface.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coreiface.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, coreiface.ErrUnavailable), errors.Is(err, coreiface.ErrPeerUnreachable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), errorStatus(err))
}
