// Package analyzer turns a roll log into filterable per-face histograms and
// per-session summaries. Every function here is a pure read over a snapshot
// of the log.
package analyzer

import (
	"github.com/blackwell-systems/d20meter/internal/roll"
)

// TooltipEntry is the per-roll detail shown for an outcome bucket. Fields
// are only set when they carry information.
type TooltipEntry struct {
	Needed *int   `json:"needed,omitempty"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Bucket is one non-empty outcome category on a die face.
type Bucket struct {
	Count   int            `json:"count"`
	Tooltip []TooltipEntry `json:"tooltip"`
}

// Face is the filtered view of one die face.
type Face struct {
	Die     int                    `json:"die"`
	Rolls   []roll.Record          `json:"rolls"`
	Buckets map[roll.Degree]Bucket `json:"buckets"`
}

// Count returns the number of rolls in the face's bucket for d.
func (f Face) Count(d roll.Degree) int {
	return f.Buckets[d].Count
}

// Result is the output of one aggregation pass.
type Result struct {
	// Filter is the caller's filter with newly discovered axis values added.
	// Feed it back into the next pass.
	Filter FilterSpec `json:"filter"`

	Faces []Face `json:"faces"`

	Users    []Option        `json:"users"`
	Types    []Option        `json:"types"`
	Domains  []Option        `json:"domains"`
	Sessions []SessionOption `json:"sessions"`

	MultiRoller bool `json:"multiRoller"`
	MultiType   bool `json:"multiType"`
	Total       int  `json:"total"`
}

// Face returns the face for die, or an empty face when out of range.
func (r Result) Face(die int) Face {
	if die < roll.MinFace || die > roll.MaxFace || len(r.Faces) < die {
		return Face{Die: die}
	}
	return r.Faces[die-roll.MinFace]
}

// Aggregate filters the log face by face and buckets passing rolls by
// degree of success. spec is not modified.
func Aggregate(log *roll.Log, spec FilterSpec, viewer Viewer) Result {
	if log == nil {
		log = roll.NewLog()
	}
	filter := spec.Clone()
	accrue(&filter, log, viewer)

	res := Result{
		MultiRoller: enabledCount(filter.Users) > 1,
		MultiType:   enabledCount(filter.Types) > 1,
	}

	for die := roll.MinFace; die <= roll.MaxFace; die++ {
		face := Face{Die: die, Rolls: []roll.Record{}, Buckets: map[roll.Degree]Bucket{}}
		for _, rec := range log.Face(die) {
			if !filter.admits(rec) {
				continue
			}
			filter.discoverDomains(rec)
			face.Rolls = append(face.Rolls, rec)

			b := face.Buckets[rec.Outcome()]
			b.Count++
			b.Tooltip = append(b.Tooltip, tooltip(rec, filter.Versus, res.MultiRoller, res.MultiType, viewer))
			face.Buckets[rec.Outcome()] = b
		}
		res.Total += len(face.Rolls)
		res.Faces = append(res.Faces, face)
	}

	res.Filter = filter
	res.Users = userOptions(filter.Users, viewer)
	res.Types = keyOptions(filter.Types)
	res.Domains = keyOptions(filter.Domains)
	res.Sessions = sessionOptions(filter.Sessions, log)
	return res
}

func tooltip(rec roll.Record, versus, multiRoller, multiType bool, viewer Viewer) TooltipEntry {
	var t TooltipEntry
	if rec.Needed != nil {
		n := *rec.Needed
		t.Needed = &n
	}
	if multiRoller {
		id := rec.RollerID
		if versus {
			id = rec.VsID
		}
		t.Name = viewer.name(userSlot(id))
	}
	if multiType {
		t.Type = rec.Type
	}
	return t
}
