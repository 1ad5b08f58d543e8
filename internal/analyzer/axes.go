package analyzer

import (
	"sort"
	"time"

	"github.com/blackwell-systems/d20meter/internal/roll"
)

// Option is one checklist entry of a filter axis.
type Option struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// SessionOption is a session-axis entry. The all-sessions entry has no
// timestamps.
type SessionOption struct {
	Option
	Started *time.Time `json:"started,omitempty"`
	Ended   *time.Time `json:"ended,omitempty"`
}

// allSessionsLabel names the sentinel entry.
const allSessionsLabel = "All sessions"

// userOptions sorts users by display name, then id.
func userOptions(axis map[string]bool, viewer Viewer) []Option {
	out := make([]Option, 0, len(axis))
	for id, on := range axis {
		out = append(out, Option{Key: id, Name: viewer.name(id), Enabled: on})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// keyOptions sorts types and domains alphabetically by key.
func keyOptions(axis map[string]bool) []Option {
	out := make([]Option, 0, len(axis))
	for key, on := range axis {
		out = append(out, Option{Key: key, Name: key, Enabled: on})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// sessionOptions puts the all-sessions entry first, then the most recently
// started sessions.
func sessionOptions(axis map[string]bool, log *roll.Log) []SessionOption {
	var out []SessionOption
	if on, ok := axis[roll.AllSessions]; ok {
		out = append(out, SessionOption{Option: Option{Key: roll.AllSessions, Name: allSessionsLabel, Enabled: on}})
	}

	var rest []SessionOption
	for id, on := range axis {
		if id == roll.AllSessions {
			continue
		}
		opt := SessionOption{Option: Option{Key: id, Name: id, Enabled: on}}
		if s, ok := log.Sessions[id]; ok {
			if !s.Started.IsZero() {
				started := s.Started
				opt.Started = &started
				opt.Name = started.Local().Format("2006-01-02 15:04")
			}
			opt.Ended = s.Ended
		}
		rest = append(rest, opt)
	}
	sort.Slice(rest, func(i, j int) bool {
		a, b := startedAt(rest[i]), startedAt(rest[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return rest[i].Key < rest[j].Key
	})
	return append(out, rest...)
}

func startedAt(o SessionOption) time.Time {
	if o.Started == nil {
		return time.Time{}
	}
	return *o.Started
}
