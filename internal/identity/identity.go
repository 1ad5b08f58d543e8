// Package identity maps die rolls to the humans behind them. It describes
// the host engine's users, actors, and tokens as a read-only Directory and
// owns the fallback rule for identities that cannot be resolved.
package identity

import (
	"context"
	"errors"
	"sort"

	"github.com/blackwell-systems/d20meter/internal/roll"
)

// ErrNotFound is returned when a document reference does not resolve.
var ErrNotFound = errors.New("document not found")

// User is an engine-native user account.
type User struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	GM          bool   `yaml:"gm" json:"gm"`
	Active      bool   `yaml:"active" json:"active"`
	CharacterID string `yaml:"character" json:"character,omitempty"`
}

// Actor is a game character or creature.
type Actor struct {
	ID   string `yaml:"id" json:"id"`
	UUID string `yaml:"uuid" json:"uuid"`
	Name string `yaml:"name" json:"name"`
}

// Token is an actor's placement on a scene.
type Token struct {
	ID      string `yaml:"id" json:"id"`
	UUID    string `yaml:"uuid" json:"uuid"`
	ActorID string `yaml:"actor" json:"actor"`
}

// Directory is read access to the host engine's identity and presence data.
// Resolve methods may block on a remote document fetch.
type Directory interface {
	CurrentUser() User
	Users() []User
	User(id string) (User, bool)
	ActiveGM() (User, bool)
	ResolveActor(ctx context.Context, uuid string) (Actor, error)
	ResolveToken(ctx context.Context, uuid string) (Token, error)
	SceneToken(ctx context.Context, id string) (Token, error)
}

// ActiveGM picks the game master among active users, preferring the
// greatest id so every client agrees on the same user.
func ActiveGM(users []User) (User, bool) {
	var gms []User
	for _, u := range users {
		if u.Active && u.GM {
			gms = append(gms, u)
		}
	}
	if len(gms) == 0 {
		return User{}, false
	}
	sort.Slice(gms, func(i, j int) bool { return gms[i].ID > gms[j].ID })
	return gms[0], true
}

// UserForActor returns the id of the user whose character is actorID, or ""
// when no user plays that actor.
func UserForActor(dir Directory, actorID string) string {
	if actorID == "" {
		return ""
	}
	for _, u := range dir.Users() {
		if u.CharacterID == actorID {
			return u.ID
		}
	}
	return ""
}

// PresentUsers counts the users currently connected.
func PresentUsers(dir Directory) int {
	n := 0
	for _, u := range dir.Users() {
		if u.Active {
			n++
		}
	}
	return n
}

// DisplayName returns the user's name, falling back to the id itself.
func DisplayName(dir Directory, id string) string {
	if id == roll.GMPlaceholder {
		return "GM"
	}
	if u, ok := dir.User(id); ok && u.Name != "" {
		return u.Name
	}
	return id
}

// Resolver applies the identity fallback at the normalizer boundary.
type Resolver struct {
	Dir Directory
}

// ResolveUser returns candidate when set. Otherwise the roll is attributed
// to the active game master, or to the GM placeholder when none is present.
func (r Resolver) ResolveUser(candidate string) string {
	if candidate != "" {
		return candidate
	}
	if r.Dir != nil {
		if gm, ok := r.Dir.ActiveGM(); ok {
			return gm.ID
		}
	}
	return roll.GMPlaceholder
}
