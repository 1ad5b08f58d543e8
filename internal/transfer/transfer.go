// Package transfer moves one user's entire roll log into another user's
// partition. It is the only operation that crosses ownership boundaries.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/blackwell-systems/d20meter/internal/identity"
	"github.com/blackwell-systems/d20meter/internal/notify"
	"github.com/blackwell-systems/d20meter/internal/store"
)

// Precondition failures. None of them changes any partition.
var (
	ErrSameOwner     = errors.New("source and destination are the same user")
	ErrUnknownOwner  = errors.New("unknown user")
	ErrActiveSession = errors.New("source has an active session; end it before transferring")
	ErrNoData        = errors.New("source has no roll data")
)

// Candidate is a selectable user in the transfer form.
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Transfer merges every session and roll of from into to and deletes from's
// partition, as one atomic write. Precondition failures are reported to n
// and returned.
func Transfer(ctx context.Context, st store.RollStore, dir identity.Directory, from, to string, n notify.Notifier) error {
	if err := check(ctx, st, dir, from, to); err != nil {
		notify.Warn(n, "Transfer rejected: %v", err)
		return err
	}

	src, err := st.Read(ctx, from)
	if err != nil {
		return fmt.Errorf("reading %s: %w", from, err)
	}
	if src.ActiveSessionID != "" {
		notify.Warn(n, "Transfer rejected: %v", ErrActiveSession)
		return ErrActiveSession
	}

	if err := st.Apply(ctx,
		store.MergeLog{Owner: to, Log: src},
		store.DeletePartition{Owner: from},
	); err != nil {
		return fmt.Errorf("transferring %s to %s: %w", from, to, err)
	}

	notify.Info(n, "Moved %d rolls in %d sessions from %s to %s",
		src.RecordCount(), len(src.Sessions),
		identity.DisplayName(dir, from), identity.DisplayName(dir, to))
	return nil
}

func check(ctx context.Context, st store.RollStore, dir identity.Directory, from, to string) error {
	if from == to {
		return ErrSameOwner
	}
	if _, ok := dir.User(from); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOwner, from)
	}
	if _, ok := dir.User(to); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOwner, to)
	}
	has, err := st.HasPartition(ctx, from)
	if err != nil {
		return fmt.Errorf("checking %s: %w", from, err)
	}
	if !has {
		return ErrNoData
	}
	return nil
}

// Sources lists the known users that own roll data.
func Sources(ctx context.Context, st store.RollStore, dir identity.Directory) ([]Candidate, error) {
	owners, err := st.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}
	var out []Candidate
	for _, id := range owners {
		if u, ok := dir.User(id); ok {
			out = append(out, Candidate{ID: u.ID, Name: u.Name})
		}
	}
	sortCandidates(out)
	return out, nil
}

// Destinations lists every user that can receive a transfer. When exactly
// one user owns data, that user is excluded.
func Destinations(ctx context.Context, st store.RollStore, dir identity.Directory) ([]Candidate, error) {
	sources, err := Sources(ctx, st, dir)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, u := range dir.Users() {
		if len(sources) == 1 && sources[0].ID == u.ID {
			continue
		}
		out = append(out, Candidate{ID: u.ID, Name: u.Name})
	}
	sortCandidates(out)
	return out, nil
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Name != c[j].Name {
			return c[i].Name < c[j].Name
		}
		return c[i].ID < c[j].ID
	})
}
