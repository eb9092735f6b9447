// Package api implements the HTTP REST API and WebSocket event stream for the
// device ledger.
//
// This package provides:
//   - REST endpoints for device registration, state reads and writes, owner
//     enumeration and the state-change journal
//   - A WebSocket hub that relays committed StateChange events
//   - JWT bearer authentication; the token subject is the caller principal
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - An audit trail of every mutating request, accepted or rejected
//
// # Authorisation
//
// The API authenticates callers but never authorises them itself. The
// ledger decides: a registration always enrols the caller, and a state
// change succeeds only for the device's owner. Reads are public to any
// authenticated caller.
//
// # Status Codes
//
//	ledger.ErrInvalidPrincipal    400 bad_request
//	ledger.ErrNotOwner            403 forbidden
//	ledger.ErrDeviceDoesNotExist  404 not_found
//	ledger.ErrDeviceExists        409 conflict
package api
