package ledger

import "errors"

// Domain errors for the ledger package.
//
// These are ordinary validation outcomes, never transient faults, so callers
// should not retry them:
//
//	if errors.Is(err, ledger.ErrNotOwner) {
//	    // reject the request
//	}
var (
	// ErrDeviceExists is returned when registering an identifier that is already present.
	ErrDeviceExists = errors.New("ledger: device already exists")

	// ErrDeviceDoesNotExist is returned when an operation names an unknown device.
	ErrDeviceDoesNotExist = errors.New("ledger: device does not exist")

	// ErrNotOwner is returned when the caller is not the recorded owner of a device,
	// including devices that have no owner at all.
	ErrNotOwner = errors.New("ledger: caller is not the device owner")

	// ErrInvalidPrincipal is returned when a principal string fails validation.
	ErrInvalidPrincipal = errors.New("ledger: invalid principal")

	// ErrOrdinalOutOfRange is returned when enumerating past an owner's device count.
	ErrOrdinalOutOfRange = errors.New("ledger: ordinal out of range")

	// ErrNoAdmin is returned when a registry is constructed without a deploying principal
	// and the store has none recorded.
	ErrNoAdmin = errors.New("ledger: no admin principal")
)
