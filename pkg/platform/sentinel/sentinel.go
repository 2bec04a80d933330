package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Record and audit stores return
// these (optionally wrapped) so the gateway can translate them into domain
// errors without looking at store-specific error text, which may echo
// record content.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: identifier already taken
//   - ErrUnavailable: backing store temporarily unreachable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
