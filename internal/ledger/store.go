package ledger

import "context"

// Store is the storage handle the Registry operates on.
//
// It owns three tables (devices, the ownership index, and per-owner counts)
// plus a journal of state changes. Implementations must make each mutating
// method all-or-nothing: when an error is returned nothing was written.
// Implementations must be safe for concurrent use.
type Store interface {
	// Bootstrap records admin if the store has no admin yet and returns the
	// admin the store holds afterwards. An empty admin only reads the
	// existing value; ErrNoAdmin is returned if there is none.
	Bootstrap(ctx context.Context, admin Principal) (Principal, error)

	// Device returns the device stored under id.
	// Returns ErrDeviceDoesNotExist if there is none.
	Device(ctx context.Context, id Principal) (Device, error)

	// Register inserts a claimed device with state false, appends it to the
	// owner's index at the current count, and increments the count, as one unit.
	// Returns the ordinal assigned, or ErrDeviceExists.
	Register(ctx context.Context, id, owner Principal) (uint32, error)

	// SetState overwrites the device state and appends the change to the
	// journal in one unit, returning the journalled event.
	// Returns ErrDeviceDoesNotExist if there is no such device.
	SetState(ctx context.Context, id, caller Principal, state bool) (StateChange, error)

	// OwnerCount returns the number of devices attributed to owner (0 if none).
	OwnerCount(ctx context.Context, owner Principal) (uint32, error)

	// DeviceAt returns the device id at (owner, ordinal).
	// Returns ErrOrdinalOutOfRange if the ordinal is not below the owner's count.
	DeviceAt(ctx context.Context, owner Principal, ordinal uint32) (Principal, error)

	// Events returns journal entries matching the filter in ascending Seq order.
	Events(ctx context.Context, filter EventFilter) ([]StateChange, error)
}
