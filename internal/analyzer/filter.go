package analyzer

import (
	"maps"

	"github.com/blackwell-systems/d20meter/internal/roll"
)

// FilterSpec holds the per-axis selections for a histogram pass. It is owned
// by the caller; Aggregate never mutates it and returns an accrued copy.
type FilterSpec struct {
	Users    map[string]bool `json:"users"`
	Types    map[string]bool `json:"types"`
	Domains  map[string]bool `json:"domains"`
	Sessions map[string]bool `json:"sessions"`

	// Versus applies the user axis to the target instead of the roller.
	Versus bool `json:"versus"`
}

// NewFilterSpec returns an empty filter with the all-sessions entry enabled.
func NewFilterSpec() FilterSpec {
	return FilterSpec{
		Users:    map[string]bool{},
		Types:    map[string]bool{},
		Domains:  map[string]bool{},
		Sessions: map[string]bool{roll.AllSessions: true},
	}
}

// Clone returns a deep copy with every map initialized.
func (f FilterSpec) Clone() FilterSpec {
	return FilterSpec{
		Users:    cloneAxis(f.Users),
		Types:    cloneAxis(f.Types),
		Domains:  cloneAxis(f.Domains),
		Sessions: cloneAxis(f.Sessions),
		Versus:   f.Versus,
	}
}

func cloneAxis(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return maps.Clone(m)
}

// Viewer is the user looking at the histogram.
type Viewer struct {
	UserID     string
	Privileged bool

	// Name maps a user id to a display name. Nil shows raw ids.
	Name func(id string) string
}

func (v Viewer) name(id string) string {
	if v.Name == nil {
		if id == roll.GMPlaceholder {
			return "GM"
		}
		return id
	}
	return v.Name(id)
}

func userSlot(id string) string {
	if id == "" {
		return roll.GMPlaceholder
	}
	return id
}

// accrue registers every axis value found in log that f does not know yet.
// Users default on only for the viewer (or everyone, for a privileged
// viewer); types default on; sessions default off. Domains are discovered
// later, from passing records only.
func accrue(f *FilterSpec, log *roll.Log, viewer Viewer) {
	addUser := func(id string) {
		if _, ok := f.Users[id]; ok {
			return
		}
		f.Users[id] = id == viewer.UserID || viewer.Privileged
	}

	if _, ok := f.Sessions[roll.AllSessions]; !ok {
		f.Sessions[roll.AllSessions] = true
	}
	for id := range log.Sessions {
		if _, ok := f.Sessions[id]; !ok {
			f.Sessions[id] = false
		}
	}

	for _, bucket := range log.Rolls {
		for _, rec := range bucket {
			addUser(userSlot(rec.RollerID))
			addUser(userSlot(rec.VsID))
			if _, ok := f.Types[rec.Type]; !ok {
				f.Types[rec.Type] = true
			}
			if rec.Session != "" {
				if _, ok := f.Sessions[rec.Session]; !ok {
					f.Sessions[rec.Session] = false
				}
			}
		}
	}
}

// admits applies the axes in order: user, type, domain containment, then
// session membership.
func (f FilterSpec) admits(rec roll.Record) bool {
	user := rec.RollerID
	if f.Versus {
		user = rec.VsID
	}
	if !f.Users[userSlot(user)] {
		return false
	}
	if !f.Types[rec.Type] {
		return false
	}
	for domain, required := range f.Domains {
		if required && !rec.HasDomain(domain) {
			return false
		}
	}
	if f.Sessions[roll.AllSessions] {
		return true
	}
	return f.Sessions[rec.Session]
}

// discoverDomains registers unseen domain tags of a passing record, off.
func (f *FilterSpec) discoverDomains(rec roll.Record) {
	for _, d := range rec.Domains {
		if _, ok := f.Domains[d]; !ok {
			f.Domains[d] = false
		}
	}
}

func enabledCount(axis map[string]bool) int {
	n := 0
	for _, on := range axis {
		if on {
			n++
		}
	}
	return n
}
