package ledger

import (
	"context"
	"sync"
	"time"
)

// indexKey addresses one slot of the ownership index.
type indexKey struct {
	owner   Principal
	ordinal uint32
}

// MemoryStore is an in-process Store. Each instance is fully isolated,
// which makes it the natural choice for tests and embedded use.
type MemoryStore struct {
	mu      sync.RWMutex
	admin   Principal
	devices map[Principal]Device
	index   map[indexKey]Principal
	counts  map[Principal]uint32
	journal []StateChange
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[Principal]Device),
		index:   make(map[indexKey]Principal),
		counts:  make(map[Principal]uint32),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Bootstrap implements Store.
func (s *MemoryStore) Bootstrap(_ context.Context, admin Principal) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.admin == "" {
		if admin == "" {
			return "", ErrNoAdmin
		}
		s.admin = admin
	}
	return s.admin, nil
}

// Device implements Store.
func (s *MemoryStore) Device(_ context.Context, id Principal) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return Device{}, ErrDeviceDoesNotExist
	}
	return d, nil
}

// Register implements Store.
func (s *MemoryStore) Register(_ context.Context, id, owner Principal) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[id]; exists {
		return 0, ErrDeviceExists
	}

	ordinal := s.counts[owner]
	s.devices[id] = Device{ID: id, State: false, Owner: ClaimedBy(owner)}
	s.index[indexKey{owner: owner, ordinal: ordinal}] = id
	s.counts[owner] = ordinal + 1
	return ordinal, nil
}

// SetState implements Store.
func (s *MemoryStore) SetState(_ context.Context, id, caller Principal, state bool) (StateChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return StateChange{}, ErrDeviceDoesNotExist
	}
	d.State = state
	s.devices[id] = d

	ev := StateChange{
		Seq:        int64(len(s.journal)) + 1,
		Device:     id,
		NewState:   state,
		Caller:     caller,
		RecordedAt: s.now(),
	}
	s.journal = append(s.journal, ev)
	return ev, nil
}

// OwnerCount implements Store.
func (s *MemoryStore) OwnerCount(_ context.Context, owner Principal) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[owner], nil
}

// DeviceAt implements Store.
func (s *MemoryStore) DeviceAt(_ context.Context, owner Principal, ordinal uint32) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.index[indexKey{owner: owner, ordinal: ordinal}]
	if !ok {
		return "", ErrOrdinalOutOfRange
	}
	return id, nil
}

// Events implements Store.
func (s *MemoryStore) Events(_ context.Context, filter EventFilter) ([]StateChange, error) {
	filter = filter.normalised()

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Seq is 1-based and dense, so AfterSeq is also a slice offset.
	var events []StateChange
	for i := int(min(filter.AfterSeq, int64(len(s.journal)))); i < len(s.journal); i++ {
		ev := s.journal[i]
		if filter.Device != "" && ev.Device != filter.Device {
			continue
		}
		events = append(events, ev)
		if len(events) == filter.Limit {
			break
		}
	}
	return events, nil
}
