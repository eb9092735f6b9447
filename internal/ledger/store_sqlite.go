package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// metaKeyAdmin is the ledger_meta row holding the admin principal.
const metaKeyAdmin = "admin"

// SQLiteStore implements Store on the tables created by the ledger migrations.
//
// Every mutating method runs in a single transaction, so a failure leaves
// devices, ownership_index, owner_counts and state_changes untouched.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store on an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Bootstrap implements Store.
func (s *SQLiteStore) Bootstrap(ctx context.Context, admin Principal) (Principal, error) {
	if admin != "" {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO ledger_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO NOTHING`,
			metaKeyAdmin, string(admin),
		)
		if err != nil {
			return "", fmt.Errorf("recording admin: %w", err)
		}
	}

	var stored string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM ledger_meta WHERE key = ?", metaKeyAdmin,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoAdmin
		}
		return "", fmt.Errorf("reading admin: %w", err)
	}
	return Principal(stored), nil
}

// Device implements Store.
func (s *SQLiteStore) Device(ctx context.Context, id Principal) (Device, error) {
	var state int
	var owner sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT state, owner FROM devices WHERE id = ?", string(id),
	).Scan(&state, &owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, ErrDeviceDoesNotExist
		}
		return Device{}, fmt.Errorf("querying device: %w", err)
	}

	d := Device{ID: id, State: state != 0, Owner: Unclaimed()}
	if owner.Valid {
		d.Owner = ClaimedBy(Principal(owner.String))
	}
	return d, nil
}

// Register implements Store.
func (s *SQLiteStore) Register(ctx context.Context, id, owner Principal) (uint32, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting registration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices WHERE id = ?", string(id)).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("checking device exists: %w", err)
	}
	if exists > 0 {
		return 0, ErrDeviceExists
	}

	ordinal, err := ownerCount(ctx, tx, owner)
	if err != nil {
		return 0, err
	}

	now := s.now().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO devices (id, state, owner, registered_at) VALUES (?, 0, ?, ?)",
		string(id), string(owner), now,
	); err != nil {
		if isUniqueConstraintError(err) {
			return 0, ErrDeviceExists
		}
		return 0, fmt.Errorf("inserting device: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO ownership_index (owner, ordinal, device_id) VALUES (?, ?, ?)",
		string(owner), ordinal, string(id),
	); err != nil {
		return 0, fmt.Errorf("appending ownership index: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO owner_counts (owner, count) VALUES (?, 1)
		 ON CONFLICT(owner) DO UPDATE SET count = count + 1`,
		string(owner),
	); err != nil {
		return 0, fmt.Errorf("incrementing owner count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing registration: %w", err)
	}
	return ordinal, nil
}

// SetState implements Store.
func (s *SQLiteStore) SetState(ctx context.Context, id, caller Principal, state bool) (StateChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StateChange{}, fmt.Errorf("starting state change: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := s.now()
	stamp := now.Format(time.RFC3339Nano)

	result, err := tx.ExecContext(ctx,
		"UPDATE devices SET state = ?, state_updated_at = ? WHERE id = ?",
		boolToInt(state), stamp, string(id),
	)
	if err != nil {
		return StateChange{}, fmt.Errorf("updating device state: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return StateChange{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return StateChange{}, ErrDeviceDoesNotExist
	}

	result, err = tx.ExecContext(ctx,
		"INSERT INTO state_changes (device_id, new_state, caller, recorded_at) VALUES (?, ?, ?, ?)",
		string(id), boolToInt(state), string(caller), stamp,
	)
	if err != nil {
		return StateChange{}, fmt.Errorf("journalling state change: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return StateChange{}, fmt.Errorf("reading journal sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return StateChange{}, fmt.Errorf("committing state change: %w", err)
	}

	return StateChange{
		Seq:        seq,
		Device:     id,
		NewState:   state,
		Caller:     caller,
		RecordedAt: now,
	}, nil
}

// OwnerCount implements Store.
func (s *SQLiteStore) OwnerCount(ctx context.Context, owner Principal) (uint32, error) {
	return ownerCount(ctx, s.db, owner)
}

// DeviceAt implements Store.
func (s *SQLiteStore) DeviceAt(ctx context.Context, owner Principal, ordinal uint32) (Principal, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT device_id FROM ownership_index WHERE owner = ? AND ordinal = ?",
		string(owner), ordinal,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrOrdinalOutOfRange
		}
		return "", fmt.Errorf("querying ownership index: %w", err)
	}
	return Principal(id), nil
}

// Events implements Store.
func (s *SQLiteStore) Events(ctx context.Context, filter EventFilter) ([]StateChange, error) {
	filter = filter.normalised()

	query := `SELECT seq, device_id, new_state, caller, recorded_at
		FROM state_changes
		WHERE seq > ?`
	args := []any{filter.AfterSeq}
	if filter.Device != "" {
		query += " AND device_id = ?"
		args = append(args, string(filter.Device))
	}
	query += " ORDER BY seq LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state changes: %w", err)
	}
	defer rows.Close()

	events := make([]StateChange, 0, filter.Limit)
	for rows.Next() {
		var ev StateChange
		var device, caller, recordedAt string
		var state int
		if err := rows.Scan(&ev.Seq, &device, &state, &caller, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state change: %w", err)
		}
		ev.Device = Principal(device)
		ev.Caller = Principal(caller)
		ev.NewState = state != 0
		ev.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state changes: %w", err)
	}
	return events, nil
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ownerCount reads owner_counts, treating a missing row as zero.
func ownerCount(ctx context.Context, q queryRower, owner Principal) (uint32, error) {
	var count int64
	err := q.QueryRowContext(ctx,
		"SELECT count FROM owner_counts WHERE owner = ?", string(owner),
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("querying owner count: %w", err)
	}
	return uint32(count), nil //nolint:gosec // counts only grow by one per registration
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
