package session

import "errors"

var (
	ErrConnectTimeout     = errors.New("connection timed out")
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyConnected   = errors.New("already connected")
	ErrMissingCredentials = errors.New("room and password are required")
	ErrClosed             = errors.New("session closed")
)
