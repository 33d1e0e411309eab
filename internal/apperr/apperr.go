// Package apperr names the error kinds the session/admission layers need
// to branch on (as opposed to opaque wrapped errors that only get logged).
package apperr

import "errors"

// Admission rejection reasons (spec.md §4.4).
var (
	ErrOnceExhausted   = errors.New("server already served its one client")
	ErrMaxClients      = errors.New("max clients reached")
	ErrAuthRequired    = errors.New("authentication required")
	ErrAuthMismatch    = errors.New("authentication failed")
	ErrPathMismatch    = errors.New("path does not match websocket endpoint")
	ErrOriginMismatch  = errors.New("origin does not match host")
	ErrNoProcess       = errors.New("no process")
	ErrAlreadyExited   = errors.New("process already exited")
)

// WebSocket close codes used by the session state machine (spec.md §4.3, §8).
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// PolicyViolationReason is sent as the WebSocket close reason text when the
// handshake fails authentication (spec.md §4.3 AwaitingHandshake).
const PolicyViolationReason = "policy-violation"

// UnexpectedReason is sent when spawning the child failed after a
// successful handshake (spec.md §4.3).
const UnexpectedReason = "unexpected condition"
