package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Warden stores return these
// (optionally wrapped) and the service translates them into verdicts or
// domain errors:
//   - ErrNotFound: account, grant or activation does not exist
//   - ErrConflict: a unique key is already taken
//   - ErrExpired: a grant or token is past its expiry
//   - ErrUnavailable: backing store is temporarily unreachable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrExpired     = errors.New("expired")
	ErrUnavailable = errors.New("unavailable")
)
