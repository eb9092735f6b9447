package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/device-ledger/internal/infrastructure/metrics"
)

// Operation names used in logs and metrics.
const (
	OpRegisterDevice = "register_device"
	OpChangeState    = "change_state"
	OpGetState       = "get_state"
	OpDeviceCount    = "device_count"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the device ledger's state-transition logic.
//
// Mutating operations are serialised behind a single lock so the registry
// behaves as one totally ordered ledger regardless of how many goroutines
// call it. Events are emitted under the same lock, so subscribers observe
// them in commit order.
type Registry struct {
	store Store
	admin Principal

	// mu serialises RegisterDevice, ChangeState and sink changes.
	mu      sync.Mutex
	sinks   []EventSink
	logger  Logger
	metrics *metrics.Ledger
}

// NewRegistry constructs a registry over store.
//
// deployer becomes the admin principal unless the store already records one,
// in which case the stored admin is kept. deployer may be empty only when
// reopening a store that has an admin.
func NewRegistry(ctx context.Context, store Store, deployer Principal) (*Registry, error) {
	admin, err := store.Bootstrap(ctx, deployer)
	if err != nil {
		if errors.Is(err, ErrNoAdmin) {
			return nil, err
		}
		return nil, fmt.Errorf("bootstrapping store: %w", err)
	}

	return &Registry{
		store:  store,
		admin:  admin,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMetrics sets the Prometheus collectors. A nil value disables metrics.
func (r *Registry) SetMetrics(m *metrics.Ledger) {
	r.metrics = m
}

// AddSink subscribes a sink to StateChange events.
func (r *Registry) AddSink(sink EventSink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, sink)
	r.mu.Unlock()
}

// Admin returns the principal captured when the ledger was first constructed.
func (r *Registry) Admin() Principal {
	return r.admin
}

// RegisterDevice enrols the caller as a device claimed by owner.
//
// The caller's own principal becomes the device id. Registration is not
// idempotent: a second call by the same caller fails with ErrDeviceExists.
// No event is emitted.
func (r *Registry) RegisterDevice(ctx context.Context, caller, owner Principal) error {
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	ordinal, err := r.store.Register(ctx, caller, owner)
	if err != nil {
		if errors.Is(err, ErrDeviceExists) {
			r.observe(OpRegisterDevice, metrics.OutcomeRejected, start)
			r.logger.Debug("device registration rejected", "device", caller, "owner", owner, "error", err)
			return err
		}
		r.observe(OpRegisterDevice, metrics.OutcomeError, start)
		return fmt.Errorf("registering device: %w", err)
	}

	r.observe(OpRegisterDevice, metrics.OutcomeOK, start)
	r.metrics.IncRegistrations()
	r.logger.Info("device registered", "device", caller, "owner", owner, "ordinal", ordinal)
	return nil
}

// ChangeState sets a device's state on behalf of caller.
//
// Fails with ErrDeviceDoesNotExist for unknown devices and ErrNotOwner when
// the device is unclaimed or claimed by someone else. Writing the current
// value again is allowed and still emits an event.
func (r *Registry) ChangeState(ctx context.Context, caller, deviceID Principal, newState bool) error {
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	dev, err := r.store.Device(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceDoesNotExist) {
			r.observe(OpChangeState, metrics.OutcomeRejected, start)
			return err
		}
		r.observe(OpChangeState, metrics.OutcomeError, start)
		return fmt.Errorf("loading device: %w", err)
	}

	if !dev.Owner.Permits(caller) {
		r.observe(OpChangeState, metrics.OutcomeRejected, start)
		r.logger.Debug("state change rejected",
			"device", deviceID,
			"caller", caller,
			"owner", dev.Owner.String(),
		)
		return ErrNotOwner
	}

	ev, err := r.store.SetState(ctx, deviceID, caller, newState)
	if err != nil {
		r.observe(OpChangeState, metrics.OutcomeError, start)
		return fmt.Errorf("storing state: %w", err)
	}

	r.emit(ctx, ev)
	r.observe(OpChangeState, metrics.OutcomeOK, start)
	return nil
}

// GetState returns a device's current state.
//
// Device state is public: any caller may read any device.
func (r *Registry) GetState(ctx context.Context, deviceID Principal) (bool, error) {
	start := time.Now()

	dev, err := r.store.Device(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceDoesNotExist) {
			r.observe(OpGetState, metrics.OutcomeRejected, start)
			return false, err
		}
		r.observe(OpGetState, metrics.OutcomeError, start)
		return false, fmt.Errorf("loading device: %w", err)
	}

	r.observe(OpGetState, metrics.OutcomeOK, start)
	return dev.State, nil
}

// Device returns the full record for deviceID, including its owner.
// Like GetState it applies no authorization.
func (r *Registry) Device(ctx context.Context, deviceID Principal) (Device, error) {
	dev, err := r.store.Device(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceDoesNotExist) {
			return Device{}, err
		}
		return Device{}, fmt.Errorf("loading device: %w", err)
	}
	return dev, nil
}

// DeviceCount returns how many devices owner has registered, 0 if none.
// The only possible error is a storage fault.
func (r *Registry) DeviceCount(ctx context.Context, owner Principal) (uint32, error) {
	start := time.Now()

	count, err := r.store.OwnerCount(ctx, owner)
	if err != nil {
		r.observe(OpDeviceCount, metrics.OutcomeError, start)
		return 0, fmt.Errorf("counting devices: %w", err)
	}

	r.observe(OpDeviceCount, metrics.OutcomeOK, start)
	return count, nil
}

// DeviceAt returns the device registered at the given ordinal for owner.
func (r *Registry) DeviceAt(ctx context.Context, owner Principal, ordinal uint32) (Principal, error) {
	id, err := r.store.DeviceAt(ctx, owner, ordinal)
	if err != nil {
		if errors.Is(err, ErrOrdinalOutOfRange) {
			return "", err
		}
		return "", fmt.Errorf("reading ownership index: %w", err)
	}
	return id, nil
}

// DevicesOf lists owner's devices in registration order.
func (r *Registry) DevicesOf(ctx context.Context, owner Principal) ([]Principal, error) {
	count, err := r.DeviceCount(ctx, owner)
	if err != nil {
		return nil, err
	}

	ids := make([]Principal, 0, count)
	for ordinal := range count {
		id, err := r.DeviceAt(ctx, owner, ordinal)
		if err != nil {
			return nil, fmt.Errorf("ordinal %d: %w", ordinal, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Events returns journalled state changes matching filter, oldest first.
func (r *Registry) Events(ctx context.Context, filter EventFilter) ([]StateChange, error) {
	events, err := r.store.Events(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return events, nil
}

// emit fans ev out to every sink. Callers must hold r.mu.
func (r *Registry) emit(ctx context.Context, ev StateChange) {
	r.metrics.IncEvents()
	r.logger.Info("device state changed",
		"device", ev.Device,
		"new_state", ev.NewState,
		"seq", ev.Seq,
	)

	for _, sink := range r.sinks {
		if err := sink.PublishStateChange(ctx, ev); err != nil {
			r.metrics.IncSinkFailure(sink.Name())
			r.logger.Warn("event sink failed",
				"sink", sink.Name(),
				"device", ev.Device,
				"seq", ev.Seq,
				"error", err,
			)
		}
	}
}

func (r *Registry) observe(op, outcome string, start time.Time) {
	r.metrics.ObserveOperation(op, outcome, time.Since(start))
}
