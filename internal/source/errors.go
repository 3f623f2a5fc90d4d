package source

import "errors"

// Error kinds per spec.md §7. AuthRejected is terminal for the attempt
// budget (spec.md §4.1, §9 "Open question — Treatment of 401 from
// upstream": this relay chooses terminate-and-report). Every other kind
// feeds the reconnect state machine.
var (
	ErrAuthRejected   = errors.New("source: upstream rejected credentials")
	ErrProtocolError  = errors.New("source: malformed or unexpected upstream response")
	ErrTransportError = errors.New("source: transport failure")
	ErrPermanent      = errors.New("source: reconnect attempt budget exhausted")
)
