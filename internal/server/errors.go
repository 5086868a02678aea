package server

import "errors"

// Server-specific errors
var (
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrMaxSessionsReached   = errors.New("maximum sessions reached")
	ErrSessionNotFound      = errors.New("session not found")
	ErrNoCommandHandler     = errors.New("no command handler")
)
