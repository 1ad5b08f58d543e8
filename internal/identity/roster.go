package identity

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Roster is a Directory backed by a static snapshot of the host engine,
// usually exported to YAML alongside the event feed.
type Roster struct {
	Current     string  `yaml:"current_user"`
	UserList    []User  `yaml:"users"`
	ActorList   []Actor `yaml:"actors"`
	TokenList   []Token `yaml:"tokens"`
	SceneTokens []Token `yaml:"scene_tokens"`
}

// LoadRoster reads a roster snapshot from path. A missing file yields an
// empty roster so capture still works with GM fallback attribution.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Roster{}, nil
		}
		return nil, fmt.Errorf("reading roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes a YAML roster snapshot.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}
	return &r, nil
}

// CurrentUser returns the user this client runs as.
func (r *Roster) CurrentUser() User {
	if u, ok := r.User(r.Current); ok {
		return u
	}
	return User{ID: r.Current, Name: r.Current}
}

// Users returns every known user.
func (r *Roster) Users() []User {
	out := make([]User, len(r.UserList))
	copy(out, r.UserList)
	return out
}

// User looks up a user by id.
func (r *Roster) User(id string) (User, bool) {
	for _, u := range r.UserList {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

// ActiveGM returns the active game master, if any.
func (r *Roster) ActiveGM() (User, bool) {
	return ActiveGM(r.UserList)
}

// ResolveActor resolves an actor document reference. Token-embedded
// references ("Scene.x.Token.y.Actor.z") resolve by their trailing actor id.
func (r *Roster) ResolveActor(ctx context.Context, uuid string) (Actor, error) {
	if err := ctx.Err(); err != nil {
		return Actor{}, err
	}
	for _, a := range r.ActorList {
		if a.UUID == uuid {
			return a, nil
		}
	}
	if i := strings.LastIndex(uuid, "Actor."); i >= 0 {
		id := uuid[i+len("Actor."):]
		for _, a := range r.ActorList {
			if a.ID == id {
				return a, nil
			}
		}
	}
	return Actor{}, fmt.Errorf("actor %q: %w", uuid, ErrNotFound)
}

// ResolveToken resolves a token document reference.
func (r *Roster) ResolveToken(ctx context.Context, uuid string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	for _, t := range r.TokenList {
		if t.UUID == uuid {
			return t, nil
		}
	}
	return Token{}, fmt.Errorf("token %q: %w", uuid, ErrNotFound)
}

// SceneToken looks up a token on the current scene by its id.
func (r *Roster) SceneToken(ctx context.Context, id string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	for _, list := range [][]Token{r.SceneTokens, r.TokenList} {
		for _, t := range list {
			if t.ID == id {
				return t, nil
			}
		}
	}
	return Token{}, fmt.Errorf("scene token %q: %w", id, ErrNotFound)
}
