package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/google/uuid"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// Read returns the owner's full roll log. An absent partition reads as an
// empty log.
func (db *DB) Read(ctx context.Context, owner string) (*roll.Log, error) {
	log := roll.NewLog()

	var active sql.NullString
	err := db.conn.QueryRowContext(ctx,
		"SELECT active_session_id FROM owners WHERE owner_id = ?", owner,
	).Scan(&active)
	if err == sql.ErrNoRows {
		return log, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading owner %s: %w", owner, err)
	}
	log.ActiveSessionID = active.String

	if err := db.readSessions(ctx, owner, log); err != nil {
		return nil, err
	}
	if err := db.readRolls(ctx, owner, log); err != nil {
		return nil, err
	}
	return log, nil
}

func (db *DB) readSessions(ctx context.Context, owner string, log *roll.Log) error {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT session_id, started, ended FROM sessions WHERE owner_id = ?", owner,
	)
	if err != nil {
		return fmt.Errorf("reading sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var started, ended sql.NullString
		if err := rows.Scan(&id, &started, &ended); err != nil {
			return err
		}
		s := roll.Session{ID: id, Started: parseTime(started.String)}
		if ended.Valid {
			t := parseTime(ended.String)
			s.Ended = &t
		}
		log.Sessions[id] = s
	}
	return rows.Err()
}

func (db *DB) readRolls(ctx context.Context, owner string, log *roll.Log) error {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT record_id, die, session_id, check_type, roller_id, vs_id, dos,
		 needed, domains, recorded_at, source_message_id
		 FROM rolls WHERE owner_id = ?`, owner,
	)
	if err != nil {
		return fmt.Errorf("reading rolls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id                         string
			rec                        roll.Record
			session, dos, domains, src sql.NullString
			needed                     sql.NullInt64
			recordedAt                 string
		)
		if err := rows.Scan(&id, &rec.Die, &session, &rec.Type, &rec.RollerID, &rec.VsID,
			&dos, &needed, &domains, &recordedAt, &src); err != nil {
			return err
		}
		rec.Session = session.String
		rec.Degree = roll.Degree(dos.String)
		if needed.Valid {
			n := int(needed.Int64)
			rec.Needed = &n
		}
		if domains.String != "" {
			if err := json.Unmarshal([]byte(domains.String), &rec.Domains); err != nil {
				return fmt.Errorf("decoding domains for %s: %w", id, err)
			}
		}
		rec.Timestamp = parseTime(recordedAt)
		rec.SourceMessageID = src.String
		log.Put(id, rec)
	}
	return rows.Err()
}

// HasPartition reports whether the owner has any persisted roll log.
func (db *DB) HasPartition(ctx context.Context, owner string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM owners WHERE owner_id = ?", owner,
	).Scan(&n)
	return n > 0, err
}

// Owners returns every owner with a partition, sorted by id.
func (db *DB) Owners(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT owner_id FROM owners ORDER BY owner_id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// AppendRoll stores rec under a freshly generated record id and returns it.
func (db *DB) AppendRoll(ctx context.Context, owner string, rec roll.Record) (string, error) {
	id := uuid.NewString()
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if err := ensureOwner(ctx, tx, owner); err != nil {
			return err
		}
		return insertRoll(ctx, tx, owner, id, rec)
	})
	if err != nil {
		return "", fmt.Errorf("appending roll: %w", err)
	}
	return id, nil
}

// UpsertSession creates the session entry or updates its set fields.
func (db *DB) UpsertSession(ctx context.Context, owner, sessionID string, patch SessionPatch) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if err := ensureOwner(ctx, tx, owner); err != nil {
			return err
		}
		return upsertSession(ctx, tx, owner, sessionID, patch)
	})
}

// SetActiveSession points the owner's active session at sessionID; an
// empty id clears the pointer.
func (db *DB) SetActiveSession(ctx context.Context, owner, sessionID string) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if err := ensureOwner(ctx, tx, owner); err != nil {
			return err
		}
		var active any
		if sessionID != "" {
			active = sessionID
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE owners SET active_session_id = ? WHERE owner_id = ?", active, owner,
		)
		return err
	})
}

// Clear removes sessions, rolls, or (with both) the whole partition.
func (db *DB) Clear(ctx context.Context, owner string, opts ClearOptions) error {
	if opts.Sessions && opts.Rolls {
		return db.Apply(ctx, DeletePartition{Owner: owner})
	}
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if opts.Sessions {
			if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE owner_id = ?", owner); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE owners SET active_session_id = NULL WHERE owner_id = ?", owner,
			); err != nil {
				return err
			}
		}
		if opts.Rolls {
			if _, err := tx.ExecContext(ctx, "DELETE FROM rolls WHERE owner_id = ?", owner); err != nil {
				return err
			}
		}
		return nil
	})
}

// Apply runs every op in a single transaction.
func (db *DB) Apply(ctx context.Context, ops ...Op) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			if err := op.apply(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// CaptureEnabled returns the owner's capture toggle; unset means off.
func (db *DB) CaptureEnabled(ctx context.Context, owner string) (bool, error) {
	var enabled bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT enabled FROM capture_settings WHERE owner_id = ?", owner,
	).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return enabled, err
}

// SetCaptureEnabled stores the owner's capture toggle.
func (db *DB) SetCaptureEnabled(ctx context.Context, owner string, enabled bool) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO capture_settings (owner_id, enabled) VALUES (?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET enabled = excluded.enabled`,
		owner, enabled,
	)
	return err
}

func (op MergeLog) apply(ctx context.Context, tx *sql.Tx) error {
	if err := ensureOwner(ctx, tx, op.Owner); err != nil {
		return err
	}
	if op.Log == nil {
		return nil
	}
	for id, s := range op.Log.Sessions {
		patch := SessionPatch{Ended: s.Ended}
		if !s.Started.IsZero() {
			started := s.Started
			patch.Started = &started
		}
		if err := upsertSession(ctx, tx, op.Owner, id, patch); err != nil {
			return err
		}
	}
	for _, bucket := range op.Log.Rolls {
		for id, rec := range bucket {
			if err := insertRoll(ctx, tx, op.Owner, id, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (op DeletePartition) apply(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		"DELETE FROM rolls WHERE owner_id = ?",
		"DELETE FROM sessions WHERE owner_id = ?",
		"DELETE FROM owners WHERE owner_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, op.Owner); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureOwner(ctx context.Context, tx *sql.Tx, owner string) error {
	_, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO owners (owner_id) VALUES (?)", owner)
	return err
}

func upsertSession(ctx context.Context, tx *sql.Tx, owner, sessionID string, patch SessionPatch) error {
	var started, ended any
	if patch.Started != nil {
		started = formatTime(*patch.Started)
	}
	if patch.Ended != nil {
		ended = formatTime(*patch.Ended)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (owner_id, session_id, started, ended) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_id, session_id) DO UPDATE SET
		   started = COALESCE(excluded.started, sessions.started),
		   ended   = COALESCE(excluded.ended, sessions.ended)`,
		owner, sessionID, started, ended,
	)
	return err
}

func insertRoll(ctx context.Context, tx *sql.Tx, owner, id string, rec roll.Record) error {
	var domains any
	if len(rec.Domains) > 0 {
		data, err := json.Marshal(rec.Domains)
		if err != nil {
			return err
		}
		domains = string(data)
	}
	var needed any
	if rec.Needed != nil {
		needed = *rec.Needed
	}
	var dos any
	if rec.Degree != "" {
		dos = string(rec.Degree)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO rolls
		(owner_id, record_id, die, session_id, check_type, roller_id, vs_id, dos,
		 needed, domains, recorded_at, source_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		owner, id, rec.Die, rec.Session, rec.Type, rec.RollerID, rec.VsID, dos,
		needed, domains, formatTime(rec.Timestamp), rec.SourceMessageID,
	)
	return err
}
