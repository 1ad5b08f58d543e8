package normalize

import (
	"context"
	"sort"
	"strings"

	"github.com/blackwell-systems/d20meter/internal/identity"
	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// parseSpecialSignature matches the stratagem action by its exact flavor.
func (n *Normalizer) parseSpecialSignature(msg gjson.Result, id string) (IntakeEvent, bool) {
	if strings.TrimSpace(msg.Get("flavor").String()) != n.opts.StratagemFlavor {
		return nil, false
	}
	r := firstRoll(msg)
	die, ok := firstDie(r)
	if !ok {
		return nil, false
	}
	return SpecialSignature{Intake: Intake{
		CheckType: roll.TypeDeviseStratagem,
		Die:       die,
		RollerID:  identity.UserForActor(n.dir, msg.Get(pathSpeakerActor).String()),
		Degree:    degreeField(r.Get("options.degreeOfSuccess")),
		Domains:   []string{roll.TypeDeviseStratagem},
		MessageID: id,
	}}, true
}

// parseGenericAction matches any roll carrying structured options with a
// check type.
func (n *Normalizer) parseGenericAction(ctx context.Context, msg gjson.Result, id string) (IntakeEvent, bool, error) {
	r := firstRoll(msg)
	checkType := r.Get("options.type").String()
	if checkType == "" {
		return nil, false, nil
	}
	die, ok := firstDie(r)
	if !ok {
		return nil, false, nil
	}
	c := msg.Get(pathContext)

	e := GenericAction{
		Intake: Intake{
			CheckType: checkType,
			Die:       die,
			RollerID:  identity.UserForActor(n.dir, c.Get("actor").String()),
			Degree:    degreeField(r.Get("options.degreeOfSuccess")),
			IsReroll:  c.Get("isReroll").Bool(),
			Domains:   stringList(c.Get("domains")),
			MessageID: id,
		},
		Modifier:    optionalInt(r.Get("options.totalModifier")),
		DC:          optionalInt(c.Get("dc.value")),
		TargetToken: c.Get("target.token").String(),
	}
	if e.DC != nil {
		needed := *e.DC
		if e.Modifier != nil {
			needed -= *e.Modifier
		}
		e.Needed = &needed
	}
	if e.TargetToken != "" {
		tok, err := n.dir.ResolveToken(ctx, e.TargetToken)
		vs, err := n.userForToken(ctx, tok, err)
		if err != nil {
			return nil, false, err
		}
		e.VsID = vs
	}
	return e, true, nil
}

// parseFreeTextKnowledge matches plain rolls whose flavor or body carries a
// knowledge-check marker.
func (n *Normalizer) parseFreeTextKnowledge(msg gjson.Result, id string) (IntakeEvent, bool) {
	flavor := msg.Get("flavor").String()
	content := msg.Get("content").String()
	var marker string
	for _, m := range n.opts.KnowledgeMarkers {
		if m != "" && (strings.Contains(flavor, m) || strings.Contains(content, m)) {
			marker = m
			break
		}
	}
	if marker == "" {
		return nil, false
	}
	die, ok := firstDie(firstRoll(msg))
	if !ok {
		return nil, false
	}
	return FreeTextKnowledge{
		Intake: Intake{
			CheckType: roll.TypeSkillCheck,
			Die:       die,
			RollerID:  identity.UserForActor(n.dir, msg.Get(pathSpeakerActor).String()),
			Degree:    roll.DegreeUnknown,
			Domains:   []string{n.opts.KnowledgeDomain},
			MessageID: id,
		},
		Marker: marker,
	}, true
}

// parseSaveDisclosure matches a revision that reveals per-target saving
// throws. Each target token is resolved concurrently.
func (n *Normalizer) parseSaveDisclosure(ctx context.Context, msg, delta gjson.Result, id string) (IntakeEvent, bool, error) {
	saves := delta.Get(pathSaves)
	if !saves.IsObject() {
		return nil, false, nil
	}
	vs, err := n.userForActorRef(ctx, msg.Get(pathOriginActor).String())
	if err != nil {
		return nil, false, err
	}
	dc := optionalInt(msg.Get(pathSaveDC))
	if dc == nil {
		dc = optionalInt(delta.Get(pathSaveDC))
	}

	saveMap := saves.Map()
	tokenIDs := make([]string, 0, len(saveMap))
	for tokenID := range saveMap {
		tokenIDs = append(tokenIDs, tokenID)
	}
	sort.Strings(tokenIDs)

	targets := make([]SaveTarget, len(tokenIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, tokenID := range tokenIDs {
		save := saveMap[tokenID]
		g.Go(func() error {
			tok, err := n.dir.SceneToken(gctx, tokenID)
			roller, err := n.userForToken(gctx, tok, err)
			if err != nil {
				return err
			}
			targets[i] = saveTarget(tokenID, save, roller, vs, dc, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	// Saves without a die value have not been rolled yet; anything else
	// outside the d20 range cannot be bucketed.
	rolled := targets[:0]
	for _, t := range targets {
		if roll.ValidFace(t.Die) {
			rolled = append(rolled, t)
		}
	}
	if len(rolled) == 0 {
		return nil, false, nil
	}
	return SaveDisclosure{MessageID: id, DC: dc, Targets: rolled}, true, nil
}

func saveTarget(tokenID string, save gjson.Result, roller, vs string, dc *int, id string) SaveTarget {
	die := int(save.Get("die").Int())
	t := SaveTarget{
		TokenID: tokenID,
		Intake: Intake{
			CheckType: roll.TypeSavingThrow,
			Die:       die,
			RollerID:  roller,
			VsID:      vs,
			Degree:    degreeField(save.Get("success")),
			IsReroll:  save.Get("rerolled").String() == "new",
			Domains:   stringList(decodeEmbedded(save.Get("roll")).Get("options.domains")),
			MessageID: id,
		},
	}
	if dc != nil {
		needed := *dc
		if value := save.Get("value"); value.Type == gjson.Number {
			needed -= int(value.Int()) - die
		}
		t.Needed = &needed
	}
	return t
}

// parseFlatCheckDisclosure matches a revision that reveals a flat check.
// The values are read from the full message, not the delta.
func (n *Normalizer) parseFlatCheckDisclosure(ctx context.Context, msg, delta gjson.Result, id string) (IntakeEvent, bool, error) {
	if !delta.Get(pathFlatTargets).Exists() {
		return nil, false, nil
	}
	fc := msg.Get(pathFlatTargets)
	dieVal, dcVal := fc.Get("roll"), fc.Get("dc")
	if dieVal.Type != gjson.Number || dcVal.Type != gjson.Number {
		return nil, false, nil
	}
	roller, err := n.userForActorRef(ctx, msg.Get(pathOriginActor).String())
	if err != nil {
		return nil, false, err
	}
	die, dc := int(dieVal.Int()), int(dcVal.Int())
	if !roll.ValidFace(die) {
		return nil, false, nil
	}
	degree := roll.DegreeFailure
	if meetsDifficulty(die, dc) {
		degree = roll.DegreeSuccess
	}
	needed := dc
	return FlatCheckDisclosure{
		Intake: Intake{
			CheckType: roll.TypeFlatCheck,
			Die:       die,
			RollerID:  roller,
			Degree:    degree,
			Needed:    &needed,
			MessageID: id,
		},
		DC: dc,
	}, true, nil
}

// meetsDifficulty reports whether total meets or beats difficulty.
func meetsDifficulty(total, difficulty int) bool {
	return total >= difficulty
}
