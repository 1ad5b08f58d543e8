package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/blackwell-systems/d20meter/internal/identity"
	"github.com/blackwell-systems/d20meter/internal/notify"
	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/blackwell-systems/d20meter/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roster = `
current_user: u-gm
users:
  - {id: u-gm, name: Gamemaster, gm: true, active: true}
  - {id: u-alice, name: Alice, active: true}
  - {id: u-bob, name: Bob, active: false}
`

var started = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*store.DB, identity.Directory, *notify.Recorder) {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	dir, err := identity.ParseRoster([]byte(roster))
	require.NoError(t, err)
	return db, dir, &notify.Recorder{}
}

// seed writes a closed session with two rolls for owner.
func seed(t *testing.T, db *store.DB, owner, sessionID string) []string {
	t.Helper()
	ctx := context.Background()
	ended := started.Add(time.Hour)
	require.NoError(t, db.UpsertSession(ctx, owner, sessionID, store.SessionPatch{Started: &started, Ended: &ended}))
	var ids []string
	for _, die := range []int{4, 20} {
		id, err := db.AppendRoll(ctx, owner, roll.Record{Session: sessionID, Type: roll.TypeSkillCheck, Die: die, RollerID: owner, VsID: "u-gm", Timestamp: started})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestTransfer_MovesEverything(t *testing.T) {
	db, dir, notes := setup(t)
	ctx := context.Background()
	ids := seed(t, db, "u-alice", "s-alice")
	seed(t, db, "u-bob", "s-bob")

	require.NoError(t, Transfer(ctx, db, dir, "u-alice", "u-bob", notes))

	has, err := db.HasPartition(ctx, "u-alice")
	require.NoError(t, err)
	assert.False(t, has, "source partition is absent, not merely empty")

	dst, err := db.Read(ctx, "u-bob")
	require.NoError(t, err)
	assert.Contains(t, dst.Sessions, "s-alice")
	assert.Contains(t, dst.Sessions, "s-bob")
	assert.Equal(t, 4, dst.RecordCount())
	assert.Contains(t, dst.Rolls[4], ids[0])
	assert.Contains(t, dst.Rolls[20], ids[1])
	assert.Equal(t, 1, notes.Count(notify.LevelInfo))
}

func TestTransfer_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		active  bool
		wantErr error
	}{
		{name: "same owner", from: "u-alice", to: "u-alice", wantErr: ErrSameOwner},
		{name: "unknown source", from: "u-ghost", to: "u-bob", wantErr: ErrUnknownOwner},
		{name: "unknown destination", from: "u-alice", to: "u-ghost", wantErr: ErrUnknownOwner},
		{name: "active session", from: "u-alice", to: "u-bob", active: true, wantErr: ErrActiveSession},
		{name: "no data", from: "u-gm", to: "u-bob", wantErr: ErrNoData},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, dir, notes := setup(t)
			ctx := context.Background()
			seed(t, db, "u-alice", "s-alice")
			if tc.active {
				require.NoError(t, db.SetActiveSession(ctx, "u-alice", "s-alice"))
			}
			before, err := db.Read(ctx, "u-alice")
			require.NoError(t, err)

			err = Transfer(ctx, db, dir, tc.from, tc.to, notes)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, 1, notes.Count(notify.LevelWarn))

			after, err := db.Read(ctx, "u-alice")
			require.NoError(t, err)
			assert.Equal(t, before, after)

			has, err := db.HasPartition(ctx, "u-bob")
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestCandidates(t *testing.T) {
	db, dir, _ := setup(t)
	ctx := context.Background()

	src, err := Sources(ctx, db, dir)
	require.NoError(t, err)
	assert.Empty(t, src)

	seed(t, db, "u-alice", "s1")
	src, err = Sources(ctx, db, dir)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{ID: "u-alice", Name: "Alice"}}, src)

	dst, err := Destinations(ctx, db, dir)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{ID: "u-bob", Name: "Bob"}, {ID: "u-gm", Name: "Gamemaster"}}, dst)

	seed(t, db, "u-bob", "s2")
	dst, err = Destinations(ctx, db, dir)
	require.NoError(t, err)
	assert.Len(t, dst, 3)
}
