// Package ledger implements the device ownership registry.
//
// The registry tracks devices keyed by the principal that registered them,
// the owner that claimed each device, and a boolean state that only the owner
// may change. It is written as the state-transition logic of a replicated
// ledger: every operation is deterministic given the store contents, a
// failing operation commits nothing, and every successful state change is
// journalled and emitted as a StateChange event.
//
// # Tables
//
//	┌──────────────────────┐   ┌────────────────────────────┐   ┌──────────────────┐
//	│ devices              │   │ ownership_index            │   │ owner_counts     │
//	│ id → state, owner    │◀──│ (owner, ordinal) → id      │   │ owner → count    │
//	└──────────────────────┘   └────────────────────────────┘   └──────────────────┘
//
// For every owner, ordinals run 0..count-1 without gaps and owner_counts
// holds count. Registration writes all three tables in one unit.
//
// # Usage
//
//	store := ledger.NewSQLiteStore(db.DB)
//	registry, err := ledger.NewRegistry(ctx, store, deployer)
//	if err != nil {
//	    return err
//	}
//	registry.SetLogger(log)
//	registry.AddSink(hub)
//
//	// A device registers itself, naming its owner
//	err = registry.RegisterDevice(ctx, devicePrincipal, ownerPrincipal)
//
//	// Only the owner may change state
//	err = registry.ChangeState(ctx, ownerPrincipal, devicePrincipal, true)
//
// # Policies
//
// Reads are public: GetState, DeviceCount and the enumeration helpers apply
// no authorization. Devices can never be deregistered or transferred, so an
// owner's count equals the number of registrations that named them.
//
// # Thread Safety
//
// The Registry is safe for concurrent use; mutations are serialised.
package ledger
