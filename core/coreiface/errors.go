// Package coreiface holds the error kinds shared by the node and the
// API. Node methods wrap their errors with one of these so the API can
// pick a status code with errors.Is.
package coreiface

import "errors"

var (
	// ErrPeerUnreachable means the remote peer could not be reached.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrInternalServer marks a failure on our side rather than in
	// the request.
	ErrInternalServer = errors.New("internal server error")

	// ErrBadRequest marks a request with invalid input.
	ErrBadRequest = errors.New("bad request")

	// ErrNotFound marks a request for an offer, trade or account we
	// don't have.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks a request that depends on something which
	// can't serve it right now, such as the offer book.
	ErrUnavailable = errors.New("unavailable")
)
