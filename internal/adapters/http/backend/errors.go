package backend

import "errors"

// Sentinel kinds for backend client errors.
var (
	ErrStatus  = errors.New("unexpected backend status")
	ErrRequest = errors.New("backend request failed")
)
