package models

import "errors"

// Error taxonomy. Handlers map these onto HTTP statuses; everything else
// is treated as an internal store failure.
var (
	// ErrValidation covers missing or invalid identifiers, actions and
	// remarks. Never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrIdentity means an inbound identifier could not be normalized to a
	// canonical form. The request is rejected rather than being silently
	// assigned a random identity.
	ErrIdentity = errors.New("identifier not reconcilable")

	// ErrStore covers status/message/archive persistence failures. Safe for
	// the caller to retry; every write path is idempotent.
	ErrStore = errors.New("store failure")

	// ErrDownstream covers cleanup/broadcast failures. Contained and
	// logged; never fails the parent request.
	ErrDownstream = errors.New("downstream failure")
)
