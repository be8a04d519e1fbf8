package domain

import "errors"

var (
	// ErrTransport marks network or decode failures talking to an external service.
	ErrTransport = errors.New("transport error")
	// ErrEngineNotReady is returned while the blocking engine is still initializing.
	ErrEngineNotReady = errors.New("blocking engine not ready")
	// ErrUnrecognized is returned for malformed or unknown broker messages.
	ErrUnrecognized = errors.New("unrecognized message")
	// ErrTimeout marks a scan that exhausted its poll attempts.
	ErrTimeout = errors.New("scan timed out")
	// ErrNotReady is returned by a broker query before any record was delivered.
	ErrNotReady = errors.New("no reputation record yet")
)
