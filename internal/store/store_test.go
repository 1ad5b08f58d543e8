package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var testTime = time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)

func TestOpen_FileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "d20meter.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	var mode string
	require.NoError(t, db.conn.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
	var timeout int
	require.NoError(t, db.conn.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, busyTimeoutMillis, timeout)

	_, err = db.AppendRoll(ctx, "u-alice", roll.Record{Type: roll.TypeSkillCheck, Die: 11, Timestamp: testTime})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	log, err := db.Read(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, 1, log.RecordCount())
}

func TestRead_AbsentPartitionIsEmpty(t *testing.T) {
	db := openTestDB(t)
	log, err := db.Read(context.Background(), "u-nobody")
	require.NoError(t, err)
	assert.True(t, log.Empty())

	has, err := db.HasPartition(context.Background(), "u-nobody")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestAppendRoll_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	needed := 12
	rec := roll.Record{
		Session:         "s1",
		Type:            "attack-roll",
		Die:             17,
		RollerID:        "u-alice",
		VsID:            "u-gm",
		Degree:          roll.DegreeSuccess,
		Needed:          &needed,
		Domains:         []string{"attack", "strike"},
		Timestamp:       testTime,
		SourceMessageID: "m1",
	}

	id, err := db.AppendRoll(ctx, "u-alice", rec)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	log, err := db.Read(ctx, "u-alice")
	require.NoError(t, err)
	require.Contains(t, log.Rolls, 17)
	got := log.Rolls[17][id]
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.Degree, got.Degree)
	assert.Equal(t, 12, *got.Needed)
	assert.Equal(t, rec.Domains, got.Domains)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, "m1", got.SourceMessageID)
}

func TestAppendRoll_NoDedup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := roll.Record{Type: "skill-check", Die: 5, RollerID: "a", VsID: "b", Timestamp: testTime, SourceMessageID: "m1"}

	id1, err := db.AppendRoll(ctx, "owner", rec)
	require.NoError(t, err)
	id2, err := db.AppendRoll(ctx, "owner", rec)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	log, err := db.Read(ctx, "owner")
	require.NoError(t, err)
	assert.Len(t, log.Rolls[5], 2)
}

func TestUpsertSessionAndActivePointer(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	started := testTime
	require.NoError(t, db.UpsertSession(ctx, "owner", "s1", SessionPatch{Started: &started}))
	require.NoError(t, db.SetActiveSession(ctx, "owner", "s1"))

	log, err := db.Read(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, "s1", log.ActiveSessionID)
	assert.True(t, log.Sessions["s1"].Active())

	ended := testTime.Add(3 * time.Hour)
	require.NoError(t, db.UpsertSession(ctx, "owner", "s1", SessionPatch{Ended: &ended}))
	require.NoError(t, db.SetActiveSession(ctx, "owner", ""))

	log, err = db.Read(ctx, "owner")
	require.NoError(t, err)
	assert.Empty(t, log.ActiveSessionID)
	s := log.Sessions["s1"]
	assert.True(t, s.Started.Equal(started), "started must survive an ended-only patch")
	require.NotNil(t, s.Ended)
	assert.True(t, s.Ended.Equal(ended))
}

func TestClear(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	started := testTime
	require.NoError(t, db.UpsertSession(ctx, "owner", "s1", SessionPatch{Started: &started}))
	_, err := db.AppendRoll(ctx, "owner", roll.Record{Type: "t", Die: 3, Timestamp: testTime})
	require.NoError(t, err)

	require.NoError(t, db.Clear(ctx, "owner", ClearOptions{Rolls: true}))
	log, err := db.Read(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, 0, log.RecordCount())
	assert.Len(t, log.Sessions, 1)

	require.NoError(t, db.Clear(ctx, "owner", ClearOptions{Sessions: true, Rolls: true}))
	has, err := db.HasPartition(ctx, "owner")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestApply_MergeAndDeleteAtomically(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	started := testTime
	require.NoError(t, db.UpsertSession(ctx, "from", "s1", SessionPatch{Started: &started}))
	id, err := db.AppendRoll(ctx, "from", roll.Record{Session: "s1", Type: "t", Die: 20, Timestamp: testTime})
	require.NoError(t, err)

	src, err := db.Read(ctx, "from")
	require.NoError(t, err)
	require.NoError(t, db.Apply(ctx, MergeLog{Owner: "to", Log: src}, DeletePartition{Owner: "from"}))

	dst, err := db.Read(ctx, "to")
	require.NoError(t, err)
	assert.Contains(t, dst.Sessions, "s1")
	assert.Contains(t, dst.Rolls[20], id)

	owners, err := db.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"to"}, owners)
}

func TestApply_RollsBackOnCancelledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := db.Apply(ctx, MergeLog{Owner: "to", Log: roll.NewLog()})
	assert.Error(t, err)

	has, err := db.HasPartition(context.Background(), "to")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCaptureEnabled(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	on, err := db.CaptureEnabled(ctx, "owner")
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, db.SetCaptureEnabled(ctx, "owner", true))
	on, err = db.CaptureEnabled(ctx, "owner")
	require.NoError(t, err)
	assert.True(t, on)
}
