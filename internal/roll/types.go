// Package roll defines the persisted roll log model: sessions, roll records,
// and the degree-of-success classification shared by every other package.
package roll

import (
	"sort"
	"time"
)

// Die face bounds. Records are bucketed by the natural d20 face.
const (
	MinFace = 1
	MaxFace = 20
)

// ValidFace reports whether die is a natural d20 face.
func ValidFace(die int) bool {
	return die >= MinFace && die <= MaxFace
}

// AllSessions is the session-axis sentinel that disables session filtering.
const AllSessions = "_all"

// GMPlaceholder stands in for a user slot when no active game master exists
// to absorb an unresolved identity.
const GMPlaceholder = "gmId"

// Check kinds recorded by the capture pipeline.
const (
	TypeAttackRoll      = "attack-roll"
	TypeSkillCheck      = "skill-check"
	TypeSavingThrow     = "saving-throw"
	TypeFlatCheck       = "flat-check"
	TypeDeviseStratagem = "devise-a-stratagem"
	TypeInitiative      = "initiative"
	TypePerceptionCheck = "perception-check"
	TypeDamageRoll      = "damage-roll"
)

// RerollSuffix marks a check that replaced an earlier attempt.
const RerollSuffix = "-reroll"

// CheckType returns the stored type for a check, suffixed when the roll
// replaced an earlier attempt.
func CheckType(base string, isReroll bool) string {
	if isReroll {
		return base + RerollSuffix
	}
	return base
}

// Record is one resolved check.
type Record struct {
	Session         string    `json:"session"`
	Type            string    `json:"type"`
	Die             int       `json:"die"`
	RollerID        string    `json:"rollerId"`
	VsID            string    `json:"vsId"`
	Degree          Degree    `json:"dos,omitempty"`
	Needed          *int      `json:"needed,omitempty"`
	Domains         []string  `json:"domains,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	SourceMessageID string    `json:"sourceMessageId"`
}

// HasDomain reports whether the record carries the given domain tag.
func (r Record) HasDomain(domain string) bool {
	for _, d := range r.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// Outcome returns the record's degree, treating absent values as unknown.
func (r Record) Outcome() Degree {
	if r.Degree == "" || !r.Degree.Valid() {
		return DegreeUnknown
	}
	return r.Degree
}

// Session is a bounded capture window.
type Session struct {
	ID      string     `json:"-"`
	Started time.Time  `json:"started"`
	Ended   *time.Time `json:"ended,omitempty"`
}

// Active reports whether the session has started and not yet ended.
func (s Session) Active() bool {
	return !s.Started.IsZero() && s.Ended == nil
}

// Log is the full persisted state for one capturing user.
type Log struct {
	ActiveSessionID string                    `json:"activeSessionId"`
	Sessions        map[string]Session        `json:"sessions"`
	Rolls           map[int]map[string]Record `json:"rolls"`
}

// NewLog returns an empty log with initialized maps.
func NewLog() *Log {
	return &Log{
		Sessions: make(map[string]Session),
		Rolls:    make(map[int]map[string]Record),
	}
}

// Face returns the records for a die face ordered by timestamp, then id.
func (l *Log) Face(face int) []Record {
	bucket := l.Rolls[face]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := bucket[ids[i]], bucket[ids[j]]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return ids[i] < ids[j]
	})
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, bucket[id])
	}
	return out
}

// Put stores a record under its die face.
func (l *Log) Put(id string, rec Record) {
	if l.Rolls == nil {
		l.Rolls = make(map[int]map[string]Record)
	}
	bucket, ok := l.Rolls[rec.Die]
	if !ok {
		bucket = make(map[string]Record)
		l.Rolls[rec.Die] = bucket
	}
	bucket[id] = rec
}

// RecordCount returns the number of records across all faces.
func (l *Log) RecordCount() int {
	n := 0
	for _, bucket := range l.Rolls {
		n += len(bucket)
	}
	return n
}

// ActiveSession returns the session referenced by the active pointer.
func (l *Log) ActiveSession() (Session, bool) {
	if l.ActiveSessionID == "" {
		return Session{}, false
	}
	s, ok := l.Sessions[l.ActiveSessionID]
	if !ok {
		return Session{ID: l.ActiveSessionID}, true
	}
	s.ID = l.ActiveSessionID
	return s, true
}

// Empty reports whether the log holds no sessions and no rolls.
func (l *Log) Empty() bool {
	return l.ActiveSessionID == "" && len(l.Sessions) == 0 && l.RecordCount() == 0
}
