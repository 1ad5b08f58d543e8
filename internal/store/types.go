// Package store provides per-owner persistence of roll logs: sessions, the
// active-session pointer, and roll records bucketed by die face.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/blackwell-systems/d20meter/internal/roll"
)

// RollStore is the persistence contract for roll logs. Every owner has an
// independent partition; Apply writes several partitions atomically.
type RollStore interface {
	Read(ctx context.Context, owner string) (*roll.Log, error)
	HasPartition(ctx context.Context, owner string) (bool, error)
	Owners(ctx context.Context) ([]string, error)
	AppendRoll(ctx context.Context, owner string, rec roll.Record) (string, error)
	UpsertSession(ctx context.Context, owner, sessionID string, patch SessionPatch) error
	SetActiveSession(ctx context.Context, owner, sessionID string) error
	Clear(ctx context.Context, owner string, opts ClearOptions) error
	Apply(ctx context.Context, ops ...Op) error
	CaptureEnabled(ctx context.Context, owner string) (bool, error)
	SetCaptureEnabled(ctx context.Context, owner string, enabled bool) error
}

// SessionPatch sets the non-nil fields of a session entry.
type SessionPatch struct {
	Started *time.Time
	Ended   *time.Time
}

// ClearOptions selects what Clear removes. Clearing both removes the
// partition entirely.
type ClearOptions struct {
	Sessions bool
	Rolls    bool
}

// Op is one write in an atomic batch.
type Op interface {
	apply(ctx context.Context, tx *sql.Tx) error
}

// MergeLog copies every session and roll of Log into Owner's partition,
// keeping record and session ids. The destination's active pointer is left
// untouched.
type MergeLog struct {
	Owner string
	Log   *roll.Log
}

// DeletePartition removes Owner's partition, leaving it absent.
type DeletePartition struct {
	Owner string
}
