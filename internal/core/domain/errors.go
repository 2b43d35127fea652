package domain

import "errors"

var (
	ErrStreamNotFound    = errors.New("stream not found")
	ErrStreamEnded       = errors.New("stream ended")
	ErrEmptyTitle        = errors.New("stream title must not be empty")
	ErrInvalidToken      = errors.New("invalid or empty token")
	ErrCoHostOutstanding = errors.New("co-host request already outstanding")
	ErrCoHostUnknown     = errors.New("no such co-host request")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrSessionClosed     = errors.New("session closed")
	ErrNotConnected      = errors.New("not connected")
)
