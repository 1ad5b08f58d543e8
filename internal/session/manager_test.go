package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/blackwell-systems/d20meter/internal/notify"
	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/blackwell-systems/d20meter/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "u-alice"

type fixture struct {
	db    *store.DB
	mgr   *Manager
	notes *notify.Recorder
	clock time.Time
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		db:    db,
		notes: &notify.Recorder{},
		clock: time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC),
	}
	seq := 0
	opts := Options{
		Notifier: f.notes,
		Now: func() time.Time {
			f.clock = f.clock.Add(time.Minute)
			return f.clock
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("s%d", seq)
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.mgr = NewManager(db, owner, opts)
	return f
}

func (f *fixture) read(t *testing.T) *roll.Log {
	t.Helper()
	log, err := f.db.Read(context.Background(), owner)
	require.NoError(t, err)
	return log
}

func activeCount(log *roll.Log) int {
	n := 0
	for _, s := range log.Sessions {
		if s.Active() {
			n++
		}
	}
	return n
}

func TestCreateSession_TwiceLeavesFirstDangling(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.mgr.CreateSession(ctx)
	require.NoError(t, err)
	second, err := f.mgr.CreateSession(ctx)
	require.NoError(t, err)

	log := f.read(t)
	assert.Len(t, log.Sessions, 2)
	assert.Equal(t, second, log.ActiveSessionID)
	assert.Equal(t, second, f.mgr.ActiveSessionID())
	assert.Nil(t, log.Sessions[first].Ended, "first session is never closed")

	active, ok := log.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, second, active.ID)
}

func TestCreateSession_ClosePreviousPolicy(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ClosePreviousOnCreate = true })
	ctx := context.Background()

	first, err := f.mgr.CreateSession(ctx)
	require.NoError(t, err)
	_, err = f.mgr.CreateSession(ctx)
	require.NoError(t, err)

	log := f.read(t)
	require.NotNil(t, log.Sessions[first].Ended)
	assert.Equal(t, 1, activeCount(log))
}

func TestStartLogging_CreatesSessionWhenAbsent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.mgr.StartLogging(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", id)
	assert.True(t, f.mgr.Capturing())

	again, err := f.mgr.StartLogging(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again, "existing session is reused")

	on, err := f.db.CaptureEnabled(ctx, owner)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestStopLogging_KeepsSessionOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.mgr.StartLogging(ctx)
	require.NoError(t, err)
	require.NoError(t, f.mgr.StopLogging(ctx))

	assert.False(t, f.mgr.Capturing())
	assert.Equal(t, id, f.mgr.ActiveSessionID())
	assert.True(t, f.read(t).Sessions[id].Active())
}

func TestEndSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.mgr.StartLogging(ctx)
	require.NoError(t, err)
	require.NoError(t, f.mgr.EndSession(ctx))

	log := f.read(t)
	assert.Empty(t, log.ActiveSessionID)
	require.NotNil(t, log.Sessions[id].Ended)
	assert.False(t, f.mgr.Capturing())
	assert.Empty(t, f.mgr.ActiveSessionID())
}

func TestEndSession_NoActiveSessionIsSafe(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.mgr.EndSession(context.Background()))
	require.NoError(t, f.mgr.EndSession(context.Background()))
	assert.Empty(t, f.read(t).Sessions)
}

func TestEraseData_RemovesPartition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.mgr.StartLogging(ctx)
	require.NoError(t, err)
	_, err = f.db.AppendRoll(ctx, owner, roll.Record{Session: id, Type: roll.TypeSkillCheck, Die: 11})
	require.NoError(t, err)

	require.NoError(t, f.mgr.EraseData(ctx))

	has, err := f.db.HasPartition(ctx, owner)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, 1, f.notes.Count(notify.LevelWarn))
}

func TestLoad_RestoresState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.mgr.StartLogging(ctx)
	require.NoError(t, err)

	reloaded := NewManager(f.db, owner, Options{})
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, id, reloaded.ActiveSessionID())
	assert.True(t, reloaded.Capturing())
}

func TestGate(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, m *Manager)
		present   int
		wantOK    bool
		wantStart bool
	}{
		{
			name:    "capturing with active session",
			setup:   func(t *testing.T, m *Manager) { _, err := m.StartLogging(context.Background()); require.NoError(t, err) },
			present: 1,
			wantOK:  true,
		},
		{
			name:      "idle with several users auto-starts",
			present:   3,
			wantOK:    true,
			wantStart: true,
		},
		{
			name:    "idle alone drops",
			present: 1,
			wantOK:  false,
		},
		{
			name:    "stopped alone drops",
			setup:   func(t *testing.T, m *Manager) { require.NoError(t, m.StopLogging(context.Background())) },
			present: 1,
			wantOK:  false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tc.setup != nil {
				tc.setup(t, f.mgr)
			}
			id, ok, err := f.mgr.Gate(context.Background(), tc.present)
			require.NoError(t, err)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.NotEmpty(t, id)
				assert.True(t, f.mgr.Capturing())
			} else {
				assert.Empty(t, id)
			}
			if tc.wantStart {
				assert.Len(t, f.read(t).Sessions, 1)
			}
		})
	}
}

func TestGate_WarnsOncePerInactivePeriod(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, ok, err := f.mgr.Gate(ctx, 1)
		require.NoError(t, err)
		require.False(t, ok)
	}
	assert.Equal(t, 1, f.notes.Count(notify.LevelWarn))

	require.NoError(t, f.mgr.EndSession(ctx))
	_, _, err := f.mgr.Gate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, f.notes.Count(notify.LevelWarn), "ending a session resets the warning")
}

func TestGate_CustomThreshold(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.AutoStartMinUsers = 4 })
	_, ok, err := f.mgr.Gate(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = f.mgr.Gate(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, ok)
}
