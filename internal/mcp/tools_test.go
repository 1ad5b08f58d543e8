package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/blackwell-systems/d20meter/internal/analyzer"
	"github.com/blackwell-systems/d20meter/internal/capture"
	"github.com/blackwell-systems/d20meter/internal/identity"
	"github.com/blackwell-systems/d20meter/internal/normalize"
	"github.com/blackwell-systems/d20meter/internal/notify"
	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/blackwell-systems/d20meter/internal/session"
	"github.com/blackwell-systems/d20meter/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoster = `
current_user: u-gm
users:
  - {id: u-gm, name: GM, gm: true, active: true}
  - {id: u-alice, name: Alice, active: true, character: a-valeros}
  - {id: u-bob, name: Bob, active: true}
actors:
  - {id: a-valeros, uuid: Actor.a-valeros, name: Valeros}
`

const attackEvent = `{"kind":"created","message":{
  "_id": "m-attack",
  "rolls": [{"options": {"type": "attack-roll", "degreeOfSuccess": 3}, "dice": [{"faces": 20, "total": 20}]}],
  "flags": {"pf2e": {"context": {"type": "attack-roll", "actor": "a-valeros"}}}
}}`

type testEnv struct {
	server *Server
	db     *store.DB
	notes  *notify.Recorder
}

func newTestServer(t *testing.T) testEnv {
	t.Helper()
	dir, err := identity.ParseRoster([]byte(testRoster))
	require.NoError(t, err)
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	notes := &notify.Recorder{}
	mgr := session.NewManager(db, "u-gm", session.Options{Notifier: notes})
	pipeline := &capture.Pipeline{
		Normalizer: normalize.New(dir, normalize.DefaultOptions(), nil),
		Sessions:   mgr,
		Store:      db,
		Directory:  dir,
	}
	s := NewServer(Deps{
		Store:     db,
		Sessions:  mgr,
		Pipeline:  pipeline,
		Directory: dir,
		Notifier:  notes,
		Viewer:    analyzer.Viewer{UserID: "u-gm", Privileged: true},
		Version:   "test",
	})
	return testEnv{server: s, db: db, notes: notes}
}

// callTool invokes the named tool handler and returns the typed result.
func callTool(s *Server, name string, args string) (any, error) {
	for _, tool := range s.tools {
		if tool.Name == name {
			return tool.Handler(context.Background(), json.RawMessage(args))
		}
	}
	return nil, nil
}

func TestTools_SessionLifecycle(t *testing.T) {
	env := newTestServer(t)

	out, err := callTool(env.server, "create_session", `{}`)
	require.NoError(t, err)
	created := out.(SessionResult)
	assert.NotEmpty(t, created.SessionID)
	assert.False(t, created.Capturing)

	out, err = callTool(env.server, "start_logging", `{}`)
	require.NoError(t, err)
	started := out.(SessionResult)
	assert.Equal(t, created.SessionID, started.SessionID, "start reuses the active session")
	assert.True(t, started.Capturing)

	out, err = callTool(env.server, "stop_logging", `{}`)
	require.NoError(t, err)
	assert.Equal(t, SessionResult{SessionID: created.SessionID}, out)

	out, err = callTool(env.server, "end_session", `{}`)
	require.NoError(t, err)
	assert.Equal(t, SessionResult{}, out)

	log, err := env.db.Read(context.Background(), "u-gm")
	require.NoError(t, err)
	require.Contains(t, log.Sessions, created.SessionID)
	assert.NotNil(t, log.Sessions[created.SessionID].Ended)
}

func TestTools_GetStatus(t *testing.T) {
	env := newTestServer(t)
	_, err := callTool(env.server, "start_logging", `{}`)
	require.NoError(t, err)

	out, err := callTool(env.server, "get_status", `{}`)
	require.NoError(t, err)
	status := out.(StatusResult)
	assert.Equal(t, "u-gm", status.Owner)
	assert.True(t, status.Capturing)
	assert.NotEmpty(t, status.ActiveSessionID)
	assert.Equal(t, 1, status.Sessions)
	assert.Equal(t, 3, status.PresentUsers)
}

func TestTools_EraseRequiresConfirm(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()
	_, err := callTool(env.server, "start_logging", `{}`)
	require.NoError(t, err)

	_, err = callTool(env.server, "erase_data", `{}`)
	assert.ErrorIs(t, err, errConfirmRequired)
	has, err := env.db.HasPartition(ctx, "u-gm")
	require.NoError(t, err)
	assert.True(t, has)

	_, err = callTool(env.server, "erase_data", `{"confirm":true}`)
	require.NoError(t, err)
	has, err = env.db.HasPartition(ctx, "u-gm")
	require.NoError(t, err)
	assert.False(t, has)
}

// wrapEvent wraps an event in the ingest_event argument envelope.
func wrapEvent(event string) string {
	return `{"event":` + event + `}`
}

func TestTools_IngestAndAggregate(t *testing.T) {
	env := newTestServer(t)

	out, err := callTool(env.server, "ingest_event", wrapEvent(attackEvent))
	require.NoError(t, err)
	res := out.(capture.Result)
	assert.Equal(t, normalize.ShapeGenericAction, res.Shape)
	require.Len(t, res.Recorded, 1, "three present users start capture on their own")

	out, err = callTool(env.server, "aggregate", `{}`)
	require.NoError(t, err)
	agg := out.(AggregateResult)
	assert.Equal(t, "u-gm", agg.Owner)
	assert.Equal(t, 1, agg.Total)
	require.Len(t, agg.Faces, 1)
	assert.Equal(t, 20, agg.Faces[0].Die)
	assert.Equal(t, 1, agg.Faces[0].Buckets[roll.DegreeCriticalSuccess].Count)
	assert.True(t, agg.Filter.Users["u-alice"])
	assert.True(t, agg.Filter.Types[roll.TypeAttackRoll])

	out, err = callTool(env.server, "aggregate", `{"users":{"u-alice":false}}`)
	require.NoError(t, err)
	agg = out.(AggregateResult)
	assert.Equal(t, 0, agg.Total)
	assert.Empty(t, agg.Faces)
	assert.False(t, agg.Filter.Users["u-alice"], "caller selections are kept")
}

func TestTools_Timeline(t *testing.T) {
	env := newTestServer(t)
	_, err := callTool(env.server, "ingest_event", wrapEvent(attackEvent))
	require.NoError(t, err)

	out, err := callTool(env.server, "timeline", `{}`)
	require.NoError(t, err)
	summaries := out.([]analyzer.SessionSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Total)
	assert.Equal(t, 1, summaries[0].Nat20)
}

func TestTools_Transfer(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	end := now.Add(time.Hour)
	require.NoError(t, env.db.UpsertSession(ctx, "u-alice", "s1", store.SessionPatch{Started: &now, Ended: &end}))
	_, err := env.db.AppendRoll(ctx, "u-alice", roll.Record{Session: "s1", Type: roll.TypeSkillCheck, Die: 7, RollerID: "u-alice", VsID: "u-gm", Timestamp: now})
	require.NoError(t, err)

	out, err := callTool(env.server, "list_transfer_candidates", `{}`)
	require.NoError(t, err)
	cands := out.(CandidatesResult)
	require.Len(t, cands.Sources, 1)
	assert.Equal(t, "u-alice", cands.Sources[0].ID)
	for _, c := range cands.Destinations {
		assert.NotEqual(t, "u-alice", c.ID)
	}

	_, err = callTool(env.server, "transfer", `{"from":"u-alice","to":"u-bob"}`)
	assert.ErrorIs(t, err, errConfirmRequired)

	_, err = callTool(env.server, "transfer", `{"from":"u-alice","to":"u-bob","confirm":true}`)
	require.NoError(t, err)

	log, err := env.db.Read(ctx, "u-bob")
	require.NoError(t, err)
	assert.Equal(t, 1, log.RecordCount())
	has, err := env.db.HasPartition(ctx, "u-alice")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestTools_IngestRequiresEnvelope(t *testing.T) {
	env := newTestServer(t)

	for _, args := range []string{attackEvent, `{}`, `{"event":{}}`} {
		_, err := callTool(env.server, "ingest_event", args)
		assert.ErrorIs(t, err, errEventRequired, args)
	}

	res := env.server.callTool(context.Background(), toolsCallParams{
		Name:      "ingest_event",
		Arguments: json.RawMessage(attackEvent),
	})
	assert.True(t, res.IsError, "a bare event is an in-band tool error")
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].Text, "event is required")

	log, err := env.db.Read(context.Background(), "u-gm")
	require.NoError(t, err)
	assert.Zero(t, log.RecordCount())
}

func TestTools_InvalidArguments(t *testing.T) {
	env := newTestServer(t)
	_, err := callTool(env.server, "aggregate", `{"users": 3}`)
	assert.Error(t, err)
}
