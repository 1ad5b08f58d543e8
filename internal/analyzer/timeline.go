package analyzer

import (
	"sort"
	"time"

	"github.com/blackwell-systems/d20meter/internal/roll"
)

// SessionSummary is the per-session rollup used by the timeline view.
type SessionSummary struct {
	ID      string              `json:"id"`
	Started *time.Time          `json:"started,omitempty"`
	Ended   *time.Time          `json:"ended,omitempty"`
	Counts  map[roll.Degree]int `json:"counts"`
	Total   int                 `json:"total"`
	MeanDie float64             `json:"meanDie"`
	Nat1    int                 `json:"nat1"`
	Nat20   int                 `json:"nat20"`
}

// Timeline summarizes each session's admitted rolls, oldest session first.
// Users and types the filter does not mention yet count as enabled, so an
// empty filter summarizes everything.
func Timeline(log *roll.Log, spec FilterSpec) []SessionSummary {
	if log == nil {
		return nil
	}
	filter := spec.Clone()
	accrue(&filter, log, Viewer{Privileged: true})

	byID := make(map[string]*SessionSummary)
	get := func(id string) *SessionSummary {
		if s, ok := byID[id]; ok {
			return s
		}
		s := &SessionSummary{ID: id, Counts: map[roll.Degree]int{}}
		if meta, ok := log.Sessions[id]; ok {
			if !meta.Started.IsZero() {
				started := meta.Started
				s.Started = &started
			}
			s.Ended = meta.Ended
		}
		byID[id] = s
		return s
	}

	for id := range log.Sessions {
		if filter.Sessions[roll.AllSessions] || filter.Sessions[id] {
			get(id)
		}
	}

	sums := make(map[string]int)
	// Only d20 faces are walked, matching the histogram buckets.
	for die := roll.MinFace; die <= roll.MaxFace; die++ {
		for _, rec := range log.Rolls[die] {
			if !filter.admits(rec) {
				continue
			}
			s := get(rec.Session)
			s.Counts[rec.Outcome()]++
			s.Total++
			sums[rec.Session] += rec.Die
			switch rec.Die {
			case roll.MinFace:
				s.Nat1++
			case roll.MaxFace:
				s.Nat20++
			}
		}
	}

	out := make([]SessionSummary, 0, len(byID))
	for id, s := range byID {
		if s.Total > 0 {
			s.MeanDie = float64(sums[id]) / float64(s.Total)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Started, out[j].Started
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
