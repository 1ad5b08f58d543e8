// Package capture is the record path: it normalizes an engine event, asks
// the session gate whether capture is live, resolves missing identities,
// and appends one roll record per intake tuple.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackwell-systems/d20meter/internal/identity"
	"github.com/blackwell-systems/d20meter/internal/normalize"
	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/blackwell-systems/d20meter/internal/session"
	"github.com/blackwell-systems/d20meter/internal/store"
)

// Normalizer extracts intake tuples from a raw event.
type Normalizer interface {
	Normalize(ctx context.Context, ev normalize.Event) (normalize.IntakeEvent, error)
}

// Pipeline wires the normalizer, session gate, and roll store together for
// one owner.
type Pipeline struct {
	Normalizer Normalizer
	Sessions   *session.Manager
	Store      store.RollStore
	Directory  identity.Directory
	Now        func() time.Time
	Logger     *slog.Logger
}

// Result summarizes what Handle did with one event.
type Result struct {
	Shape    normalize.Shape `json:"shape,omitempty"`
	Recorded []string        `json:"recorded,omitempty"`
	Dropped  int             `json:"dropped,omitempty"`
	// Skipped counts intakes whose die could not be bucketed.
	Skipped  int             `json:"skipped,omitempty"`
}

// Handle processes one event. Irrelevant events yield an empty Result. The
// same event handled twice is recorded twice; there is no dedup on message id.
// A failed append is returned as-is and the record is lost.
func (p *Pipeline) Handle(ctx context.Context, ev normalize.Event) (Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ie, err := p.Normalizer.Normalize(ctx, ev)
	if err != nil {
		return Result{}, fmt.Errorf("normalizing event %s: %w", ev.ID(), err)
	}
	if ie == nil {
		return Result{}, nil
	}

	res := Result{Shape: ie.Shape()}
	intakes := make([]normalize.Intake, 0, len(ie.Intakes()))
	for _, in := range ie.Intakes() {
		if !roll.ValidFace(in.Die) {
			res.Skipped++
			logger.Warn("intake skipped, die is not a d20 face", "message", in.MessageID, "die", in.Die)
			continue
		}
		intakes = append(intakes, in)
	}
	if len(intakes) == 0 {
		return res, nil
	}

	sessionID, ok, err := p.Sessions.Gate(ctx, identity.PresentUsers(p.Directory))
	if err != nil {
		return res, fmt.Errorf("checking capture gate: %w", err)
	}
	if !ok {
		res.Dropped = len(intakes)
		logger.Info("roll dropped, capture inactive", "message", ev.ID(), "shape", ie.Shape(), "count", len(intakes))
		return res, nil
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	resolver := identity.Resolver{Dir: p.Directory}
	owner := p.Sessions.Owner()

	for _, in := range intakes {
		rec := roll.Record{
			Session:         sessionID,
			Type:            roll.CheckType(in.CheckType, in.IsReroll),
			Die:             in.Die,
			RollerID:        resolver.ResolveUser(in.RollerID),
			VsID:            resolver.ResolveUser(in.VsID),
			Degree:          in.Degree,
			Needed:          in.Needed,
			Domains:         in.Domains,
			Timestamp:       now(),
			SourceMessageID: in.MessageID,
		}
		if rec.Degree == "" {
			rec.Degree = roll.DegreeUnknown
		}

		id, err := p.Store.AppendRoll(ctx, owner, rec)
		if err != nil {
			return res, fmt.Errorf("recording roll from %s: %w", in.MessageID, err)
		}
		res.Recorded = append(res.Recorded, id)
		logger.Debug("roll recorded",
			"id", id,
			"type", rec.Type,
			"die", rec.Die,
			"dos", rec.Degree,
			"roller", rec.RollerID,
			"vs", rec.VsID,
		)
	}
	return res, nil
}
