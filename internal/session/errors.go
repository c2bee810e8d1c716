package session

import "errors"

var (
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrBusy indicates the session is already generating a response and
	// the orchestrator was configured to reject instead of queue.
	ErrBusy = errors.New("session busy")
)
