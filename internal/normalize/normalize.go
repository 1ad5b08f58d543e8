package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blackwell-systems/d20meter/internal/identity"
	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/tidwall/gjson"
)

// ErrMalformed is returned for payloads that are not valid JSON.
var ErrMalformed = errors.New("malformed event payload")

// Payload paths shared by several shapes.
const (
	pathContext      = "flags.pf2e.context"
	pathOriginActor  = "flags.pf2e.origin.actor"
	pathSaves        = "flags.pf2e-toolbelt.targetHelper.saves"
	pathSaveDC       = "flags.pf2e-toolbelt.targetHelper.save.dc"
	pathFlatTargets  = "flags.pf2e-flatcheck-helper.flatchecks.targets"
	pathSpeakerActor = "speaker.actor"
)

// Options tune the text-matched shapes.
type Options struct {
	// StratagemFlavor is the exact flavor text of the special-signature action.
	StratagemFlavor string
	// KnowledgeMarkers mark free-text knowledge checks in flavor or content.
	KnowledgeMarkers []string
	// KnowledgeDomain is the single domain tag given to knowledge checks.
	KnowledgeDomain string
}

// DefaultOptions returns the stock markers.
func DefaultOptions() Options {
	return Options{
		StratagemFlavor:  "Devise a Stratagem",
		KnowledgeMarkers: []string{"Recall Knowledge", "recall-knowledge"},
		KnowledgeDomain:  "recall-knowledge",
	}
}

// Normalizer classifies events and extracts intake tuples.
type Normalizer struct {
	dir    identity.Directory
	opts   Options
	logger *slog.Logger
}

// New creates a Normalizer resolving identities through dir.
func New(dir identity.Directory, opts Options, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.StratagemFlavor == "" {
		opts.StratagemFlavor = defaults.StratagemFlavor
	}
	if len(opts.KnowledgeMarkers) == 0 {
		opts.KnowledgeMarkers = defaults.KnowledgeMarkers
	}
	if opts.KnowledgeDomain == "" {
		opts.KnowledgeDomain = defaults.KnowledgeDomain
	}
	return &Normalizer{dir: dir, opts: opts, logger: logger}
}

// Normalize classifies ev. It returns a nil IntakeEvent and nil error when
// the event is not a recordable roll.
func (n *Normalizer) Normalize(ctx context.Context, ev Event) (IntakeEvent, error) {
	if !gjson.ValidBytes(ev.Message) {
		return nil, fmt.Errorf("message %q: %w", ev.MessageID, ErrMalformed)
	}
	msg := gjson.ParseBytes(ev.Message)
	id := ev.ID()

	switch ev.Kind {
	case KindCreated:
		if !acceptsDice(msg) {
			return nil, nil
		}
		if e, ok := n.parseSpecialSignature(msg, id); ok {
			return e, nil
		}
		if e, ok, err := n.parseGenericAction(ctx, msg, id); err != nil || ok {
			return e, err
		}
		if e, ok := n.parseFreeTextKnowledge(msg, id); ok {
			return e, nil
		}
		return nil, nil

	case KindRevised:
		if len(ev.Delta) == 0 {
			return nil, nil
		}
		if !gjson.ValidBytes(ev.Delta) {
			return nil, fmt.Errorf("delta for %q: %w", id, ErrMalformed)
		}
		delta := gjson.ParseBytes(ev.Delta)
		if e, ok, err := n.parseSaveDisclosure(ctx, msg, delta, id); err != nil || ok {
			return e, err
		}
		if e, ok, err := n.parseFlatCheckDisclosure(ctx, msg, delta, id); err != nil || ok {
			return e, err
		}
		return nil, nil

	default:
		return nil, nil
	}
}

// acceptsDice is the structural pre-filter for created messages: the first
// roll must have a d20 as its first die and must not be a damage roll.
func acceptsDice(msg gjson.Result) bool {
	r := firstRoll(msg)
	die := r.Get("dice.0")
	if !die.Exists() {
		return false
	}
	if die.Get("faces").Int() != 20 {
		return false
	}
	if r.Get("options.type").String() == roll.TypeDamageRoll {
		return false
	}
	if msg.Get(pathContext+".type").String() == roll.TypeDamageRoll {
		return false
	}
	return true
}

// firstRoll returns the first serialized roll. Rolls may be embedded as
// objects or as JSON-encoded strings.
func firstRoll(msg gjson.Result) gjson.Result {
	return decodeEmbedded(msg.Get("rolls.0"))
}

func decodeEmbedded(v gjson.Result) gjson.Result {
	if v.Type == gjson.String && gjson.Valid(v.Str) {
		return gjson.Parse(v.Str)
	}
	return v
}

// firstDie returns the natural face of the first die term. When results are
// listed, exactly one must be kept (2d20kh keeps one, a plain 2d20 sums two
// and has no single face). Values outside the d20 range are rejected.
func firstDie(r gjson.Result) (int, bool) {
	die := r.Get("dice.0")
	face, ok := 0, false
	if results := die.Get("results").Array(); len(results) > 0 {
		var kept []gjson.Result
		for _, res := range results {
			if active := res.Get("active"); !active.Exists() || active.Bool() {
				kept = append(kept, res)
			}
		}
		if len(kept) != 1 {
			return 0, false
		}
		face, ok = int(kept[0].Get("result").Int()), kept[0].Get("result").Exists()
	} else if die.Get("number").Int() <= 1 {
		if t := die.Get("total"); t.Exists() {
			face, ok = int(t.Int()), true
		}
	}
	return face, ok && roll.ValidFace(face)
}

// degreeField maps an enumerated degree field. Numeric values go through
// the raw table; out-of-range numbers and absent fields yield unknown.
func degreeField(v gjson.Result) roll.Degree {
	switch v.Type {
	case gjson.Number:
		if d, ok := roll.DegreeFromRaw(int(v.Int())); ok {
			return d
		}
	case gjson.String:
		if d, ok := roll.ParseDegree(v.Str); ok {
			return d
		}
	case gjson.True:
		return roll.DegreeSuccess
	case gjson.False:
		return roll.DegreeFailure
	}
	return roll.DegreeUnknown
}

func optionalInt(v gjson.Result) *int {
	if v.Type != gjson.Number {
		return nil
	}
	i := int(v.Int())
	return &i
}

func stringList(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	var out []string
	for _, item := range v.Array() {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// userForActorRef resolves a document reference to the owning user. Lookup
// failures leave the slot empty; only context errors propagate.
func (n *Normalizer) userForActorRef(ctx context.Context, uuid string) (string, error) {
	if uuid == "" {
		return "", nil
	}
	actor, err := n.dir.ResolveActor(ctx, uuid)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		n.logger.Debug("unresolved actor", "uuid", uuid, "error", err)
		return "", nil
	}
	return identity.UserForActor(n.dir, actor.ID), nil
}

func (n *Normalizer) userForToken(ctx context.Context, tok identity.Token, err error) (string, error) {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		n.logger.Debug("unresolved token", "error", err)
		return "", nil
	}
	return identity.UserForActor(n.dir, tok.ActorID), nil
}
