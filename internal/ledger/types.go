package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// maxPrincipalLength bounds principal strings accepted from the outside world.
const maxPrincipalLength = 128

// Principal is an opaque identity supplied by the hosting environment.
// The registry never interprets it beyond equality.
type Principal string

// ParsePrincipal validates a principal received from an untrusted source.
// Empty strings, strings containing whitespace or control characters, and
// strings longer than 128 bytes are rejected with ErrInvalidPrincipal.
func ParsePrincipal(s string) (Principal, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPrincipal)
	}
	if len(s) > maxPrincipalLength {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidPrincipal, maxPrincipalLength)
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return "", fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidPrincipal)
	}
	return Principal(s), nil
}

// String returns the principal as a plain string.
func (p Principal) String() string {
	return string(p)
}

// Ownership records who, if anyone, has claimed a device.
//
// It has exactly two cases: Unclaimed and ClaimedBy(p). The zero value is
// Unclaimed. Only the claiming principal may mutate a claimed device;
// nobody may mutate an unclaimed one.
type Ownership struct {
	claimed bool
	owner   Principal
}

// Unclaimed returns the ownership value for a device nobody owns.
func Unclaimed() Ownership {
	return Ownership{}
}

// ClaimedBy returns the ownership value for a device owned by p.
func ClaimedBy(p Principal) Ownership {
	return Ownership{claimed: true, owner: p}
}

// Owner returns the owning principal and true, or "" and false if unclaimed.
func (o Ownership) Owner() (Principal, bool) {
	return o.owner, o.claimed
}

// IsClaimed reports whether the device has an owner.
func (o Ownership) IsClaimed() bool {
	return o.claimed
}

// Permits reports whether caller may mutate a device with this ownership.
// It is always false for an unclaimed device.
func (o Ownership) Permits(caller Principal) bool {
	return o.claimed && o.owner == caller
}

// String renders the ownership for logs.
func (o Ownership) String() string {
	if !o.claimed {
		return "unclaimed"
	}
	return "claimed_by:" + string(o.owner)
}

// MarshalJSON encodes Unclaimed as null and ClaimedBy(p) as "p".
func (o Ownership) MarshalJSON() ([]byte, error) {
	if !o.claimed {
		return []byte("null"), nil
	}
	return json.Marshal(string(o.owner))
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (o *Ownership) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Unclaimed()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding owner: %w", err)
	}
	*o = ClaimedBy(Principal(s))
	return nil
}

// Device is one enrolled unit in the registry.
// The ID is the principal that registered it and never changes.
type Device struct {
	ID    Principal `json:"id"`
	State bool      `json:"state"`
	Owner Ownership `json:"owner"`
}

// StateChange is the event emitted for every successful ChangeState call.
//
// Seq is assigned by the store's journal and increases strictly with commit
// order; RecordedAt is informational and never used for ordering.
type StateChange struct {
	Seq        int64     `json:"seq"`
	Device     Principal `json:"device"`
	NewState   bool      `json:"new_state"`
	Caller     Principal `json:"caller"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal query bounds.
const (
	DefaultEventLimit = 50
	MaxEventLimit     = 200
)

// EventFilter selects entries from the state-change journal.
type EventFilter struct {
	Device   Principal // optional: only events for this device
	AfterSeq int64     // only events with Seq > AfterSeq
	Limit    int       // default 50, max 200
}

// normalised returns the filter with its limit clamped.
func (f EventFilter) normalised() EventFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultEventLimit
	}
	if f.Limit > MaxEventLimit {
		f.Limit = MaxEventLimit
	}
	if f.AfterSeq < 0 {
		f.AfterSeq = 0
	}
	return f
}
