package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blackwell-systems/d20meter/internal/analyzer"
	"github.com/blackwell-systems/d20meter/internal/roll"
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

const attackLine = `{"kind":"created","message":{"_id":"m-attack","rolls":[{"options":{"type":"attack-roll","degreeOfSuccess":3},"dice":[{"faces":20,"total":20}]}],"flags":{"pf2e":{"context":{"type":"attack-roll","actor":"a-valeros"}}}}}`

// setupConfig writes a config and roster into a temp dir and returns the
// config path.
func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	roster := filepath.Join(dir, "roster.yaml")
	require.NoError(t, os.WriteFile(roster, []byte(testRoster), 0o644))

	cfg := "db_path: " + filepath.Join(dir, "d20meter.db") + "\n" +
		"roster_path: " + roster + "\n" +
		"output:\n  color: false\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

// resetFlags restores every package-level flag variable, since cobra keeps
// parsed values between Execute calls.
func resetFlags() {
	flagNoColor, flagJSON, flagVerbose, flagConfig = false, false, false, ""
	eraseYes = false
	transferFrom, transferTo = "", ""
	histFilter, timelineFilter = filterFlags{}, filterFlags{}
	histFace = 0
}

// execute runs the command tree with args and returns stdout.
func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"session": false, "erase": false, "transfer": false, "histogram": false,
		"timeline": false, "ingest": false, "watch": false, "mcp": false, "users": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "%s not registered on rootCmd", name)
	}
}

func TestSessionCommands(t *testing.T) {
	cfg := setupConfig(t)

	out, err := execute(t, cfg, "session", "start", "--json")
	require.NoError(t, err)
	var state struct {
		SessionID string `json:"session_id"`
		Capturing bool   `json:"capturing"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &state), out)
	assert.True(t, state.Capturing)
	require.NotEmpty(t, state.SessionID)

	out, err = execute(t, cfg, "session", "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "logging: off")
	assert.Contains(t, out, state.SessionID, "stop keeps the session open")

	_, err = execute(t, cfg, "session", "end")
	require.NoError(t, err)

	out, err = execute(t, cfg, "session", "list", "--json")
	require.NoError(t, err)
	var rows []sessionRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	require.Len(t, rows, 1)
	assert.Equal(t, state.SessionID, rows[0].ID)
	assert.False(t, rows[0].Active)
	assert.NotNil(t, rows[0].Ended)
}

func TestIngestAndHistogram(t *testing.T) {
	cfg := setupConfig(t)
	events := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(events, []byte(attackLine+"\nnot json\n"+attackLine+"\n"), 0o644))

	out, err := execute(t, cfg, "ingest", events, "--json")
	require.NoError(t, err)
	var got tally
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, tally{Events: 2, Rolls: 2, Recorded: 2}, got, "malformed line skipped")

	var hist struct {
		Total int `json:"total"`
	}
	out, err = execute(t, cfg, "histogram", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &hist), out)
	assert.Equal(t, 2, hist.Total)

	out, err = execute(t, cfg, "histogram", "--user", "u-bob", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &hist), out)
	assert.Equal(t, 0, hist.Total)

	out, err = execute(t, cfg, "histogram")
	require.NoError(t, err)
	assert.Contains(t, out, "Rolls by face (2)")
	assert.Contains(t, out, "Alice")

	out, err = execute(t, cfg, "histogram", "--face", "20")
	require.NoError(t, err)
	assert.Contains(t, out, "Face 20 (2 rolls)")

	_, err = execute(t, cfg, "histogram", "--face", "21")
	assert.Error(t, err)

	out, err = execute(t, cfg, "timeline", "--json")
	require.NoError(t, err)
	var summaries []analyzer.SessionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries), out)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].Nat20)
}

func TestEraseRequiresYes(t *testing.T) {
	cfg := setupConfig(t)
	_, err := execute(t, cfg, "session", "start")
	require.NoError(t, err)

	_, err = execute(t, cfg, "erase")
	assert.Error(t, err)

	_, err = execute(t, cfg, "erase", "--yes")
	require.NoError(t, err)

	out, err := execute(t, cfg, "session", "list", "--json")
	require.NoError(t, err)
	var rows []sessionRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	assert.Empty(t, rows)
}

func TestTransferCommand(t *testing.T) {
	cfg := setupConfig(t)

	_, err := execute(t, cfg, "transfer", "--from", "u-gm")
	assert.Error(t, err, "both ends are required")

	_, err = execute(t, cfg, "transfer", "--from", "u-gm", "--to", "u-gm")
	assert.Error(t, err)

	out, err := execute(t, cfg, "transfer", "--json")
	require.NoError(t, err)
	var cands struct {
		Sources      []struct{ ID string } `json:"sources"`
		Destinations []struct{ ID string } `json:"destinations"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cands), out)
	assert.Empty(t, cands.Sources)
	assert.Len(t, cands.Destinations, 3)
}

func TestFilterFlags(t *testing.T) {
	f := filterFlags{
		users:    []string{"u-alice"},
		domains:  []string{"fire"},
		sessions: []string{"s1"},
		versus:   true,
	}
	spec := f.spec()
	assert.True(t, spec.Versus)
	assert.True(t, spec.Domains["fire"])
	assert.False(t, spec.Sessions[roll.AllSessions])
	assert.True(t, spec.Sessions["s1"])

	spec.Users["u-bob"] = true
	spec.Types["attack-roll"] = true
	assert.True(t, f.restrict(&spec))
	assert.Equal(t, map[string]bool{"u-alice": true, "u-bob": false}, spec.Users)
	assert.True(t, spec.Types["attack-roll"], "types untouched without --type")

	assert.False(t, filterFlags{}.restrict(&spec))
}

func TestListSessions_NewestFirst(t *testing.T) {
	log := roll.NewLog()
	t0 := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	log.Sessions["old"] = roll.Session{Started: t0}
	log.Sessions["new"] = roll.Session{Started: t0.Add(24 * time.Hour)}
	log.ActiveSessionID = "new"
	log.Put("r1", roll.Record{Session: "old", Die: 5})
	log.Put("r2", roll.Record{Session: "old", Die: 9})

	rows := listSessions(log)
	require.Len(t, rows, 2)
	assert.Equal(t, "new", rows[0].ID)
	assert.True(t, rows[0].Active)
	assert.Equal(t, 2, rows[1].Rolls)
}

func TestIngest_SummedDiceAreNotRecorded(t *testing.T) {
	cfg := setupConfig(t)
	summed := `{"kind":"created","message":{"_id":"m-2d20","rolls":[{"options":{"type":"skill-check"},"dice":[{"faces":20,"number":2,"total":31}]}]}}`
	events := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(events, []byte(summed+"\n"), 0o644))

	out, err := execute(t, cfg, "ingest", events, "--json")
	require.NoError(t, err)
	var got tally
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, tally{Events: 1}, got)

	out, err = execute(t, cfg, "timeline", "--json")
	require.NoError(t, err)
	var summaries []analyzer.SessionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries), out)
	assert.Empty(t, summaries)
}
