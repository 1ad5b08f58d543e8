// Package normalize turns raw chat-message events from the game engine and
// its helper modules into canonical intake tuples. Each upstream producer
// has its own payload shape; the parsers are tried in priority order and
// the first match wins.
package normalize

import (
	"encoding/json"

	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/tidwall/gjson"
)

// Kind distinguishes message creation from later revisions.
type Kind string

// Event kinds emitted by the engine.
const (
	KindCreated Kind = "created"
	KindRevised Kind = "revised"
)

// Event is one engine notification. Message is the full chat message
// document; Delta is the revision payload and is only set for KindRevised.
type Event struct {
	Kind      Kind            `json:"kind"`
	MessageID string          `json:"messageId,omitempty"`
	Message   json.RawMessage `json:"message"`
	Delta     json.RawMessage `json:"delta,omitempty"`
}

// ID returns the originating message id, reading it from the payload when
// the envelope does not carry one.
func (e Event) ID() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	if id := gjson.GetBytes(e.Message, "_id"); id.Exists() {
		return id.String()
	}
	return gjson.GetBytes(e.Message, "id").String()
}

// Intake is the canonical, shape-independent fact extracted from an event.
// Empty RollerID or VsID means the identity could not be resolved.
type Intake struct {
	CheckType string      `json:"checkType"`
	Die       int         `json:"die"`
	RollerID  string      `json:"rollerId,omitempty"`
	VsID      string      `json:"vsId,omitempty"`
	Degree    roll.Degree `json:"dos"`
	Needed    *int        `json:"needed,omitempty"`
	IsReroll  bool        `json:"isReroll,omitempty"`
	Domains   []string    `json:"domains,omitempty"`
	MessageID string      `json:"messageId"`
}

// Shape names a recognized producer format.
type Shape string

// Recognized shapes, in detection priority order.
const (
	ShapeSpecialSignature    Shape = "special-signature"
	ShapeGenericAction       Shape = "generic-action"
	ShapeFreeTextKnowledge   Shape = "free-text-knowledge"
	ShapeSaveDisclosure      Shape = "save-disclosure"
	ShapeFlatCheckDisclosure Shape = "flat-check-disclosure"
)

// IntakeEvent is the closed set of recognized events. Only the variants in
// this package implement it.
type IntakeEvent interface {
	Shape() Shape
	Intakes() []Intake
	isIntakeEvent()
}

// SpecialSignature is an action identified by its exact flavor text.
type SpecialSignature struct {
	Intake
}

// GenericAction is a ruleset check carrying structured roll options.
type GenericAction struct {
	Intake
	Modifier    *int
	DC          *int
	TargetToken string
}

// FreeTextKnowledge is a plain roll whose text marks it as a knowledge check.
type FreeTextKnowledge struct {
	Intake
	Marker string
}

// SaveTarget is one target's saving throw in a save disclosure.
type SaveTarget struct {
	TokenID string
	Intake
}

// SaveDisclosure reveals saving throws for every target of an action.
type SaveDisclosure struct {
	MessageID string
	DC        *int
	Targets   []SaveTarget
}

// FlatCheckDisclosure reveals a flat check attached to an action.
type FlatCheckDisclosure struct {
	Intake
	DC int
}

func (e SpecialSignature) Shape() Shape    { return ShapeSpecialSignature }
func (e GenericAction) Shape() Shape       { return ShapeGenericAction }
func (e FreeTextKnowledge) Shape() Shape   { return ShapeFreeTextKnowledge }
func (e SaveDisclosure) Shape() Shape      { return ShapeSaveDisclosure }
func (e FlatCheckDisclosure) Shape() Shape { return ShapeFlatCheckDisclosure }

func (e SpecialSignature) Intakes() []Intake    { return []Intake{e.Intake} }
func (e GenericAction) Intakes() []Intake       { return []Intake{e.Intake} }
func (e FreeTextKnowledge) Intakes() []Intake   { return []Intake{e.Intake} }
func (e FlatCheckDisclosure) Intakes() []Intake { return []Intake{e.Intake} }

// Intakes returns one intake per target, in target order.
func (e SaveDisclosure) Intakes() []Intake {
	out := make([]Intake, 0, len(e.Targets))
	for _, t := range e.Targets {
		out = append(out, t.Intake)
	}
	return out
}

func (SpecialSignature) isIntakeEvent()    {}
func (GenericAction) isIntakeEvent()       {}
func (FreeTextKnowledge) isIntakeEvent()   {}
func (SaveDisclosure) isIntakeEvent()      {}
func (FlatCheckDisclosure) isIntakeEvent() {}
