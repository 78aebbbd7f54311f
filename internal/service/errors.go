package service

import "errors"

// Typed join/relay rejections. These are surfaced to the caller as-is so the
// transport layer can map each to a distinct response; none of them is ever
// treated as success.
var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSelfJoin             = errors.New("cannot join your own session")
	ErrSessionStale         = errors.New("session has gone silent")
	ErrSessionFull          = errors.New("session is full")
	ErrTooLittleTime        = errors.New("too little time remaining to join")
	ErrFirstSessionRequired = errors.New("complete a session of your own first")
)
