package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/blackwell-systems/d20meter/internal/analyzer"
	"github.com/blackwell-systems/d20meter/internal/capture"
	"github.com/blackwell-systems/d20meter/internal/identity"
	"github.com/blackwell-systems/d20meter/internal/normalize"
	"github.com/blackwell-systems/d20meter/internal/notify"
	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/blackwell-systems/d20meter/internal/session"
	"github.com/blackwell-systems/d20meter/internal/store"
	"github.com/blackwell-systems/d20meter/internal/transfer"
)

// Deps is everything the tool handlers act on.
type Deps struct {
	Store     store.RollStore
	Sessions  *session.Manager
	Pipeline  *capture.Pipeline
	Directory identity.Directory
	Notifier  notify.Notifier
	Viewer    analyzer.Viewer
	Logger    *slog.Logger
	Version   string
}

// errConfirmRequired is returned by destructive tools called without confirm.
var errConfirmRequired = errors.New(`destructive operation: pass {"confirm": true} to proceed`)

// errEventRequired is returned by ingest_event when the envelope is missing.
var errEventRequired = errors.New(`event is required: pass {"event": {"kind": ..., "message": {...}}}`)

// StatusResult describes the owner's capture state.
type StatusResult struct {
	Owner           string `json:"owner"`
	ActiveSessionID string `json:"active_session_id,omitempty"`
	Capturing       bool   `json:"capturing"`
	Sessions        int    `json:"sessions"`
	Records         int    `json:"records"`
	PresentUsers    int    `json:"present_users"`
}

// SessionResult is returned by the lifecycle tools.
type SessionResult struct {
	SessionID string `json:"session_id,omitempty"`
	Capturing bool   `json:"capturing"`
}

// FaceSummary is one non-empty die face in an aggregate result.
type FaceSummary struct {
	Die     int                             `json:"die"`
	Total   int                             `json:"total"`
	Buckets map[roll.Degree]analyzer.Bucket `json:"buckets"`
}

// AggregateResult is the histogram view returned by the aggregate tool.
// Filter holds the accrued selections; send it back on the next call to
// keep axis choices stable.
type AggregateResult struct {
	Owner       string                   `json:"owner"`
	Filter      analyzer.FilterSpec      `json:"filter"`
	Faces       []FaceSummary            `json:"faces"`
	Users       []analyzer.Option        `json:"users"`
	Types       []analyzer.Option        `json:"types"`
	Domains     []analyzer.Option        `json:"domains"`
	Sessions    []analyzer.SessionOption `json:"sessions"`
	MultiRoller bool                     `json:"multi_roller"`
	MultiType   bool                     `json:"multi_type"`
	Total       int                      `json:"total"`
}

// CandidatesResult lists the users a transfer can move data between.
type CandidatesResult struct {
	Sources      []transfer.Candidate `json:"sources"`
	Destinations []transfer.Candidate `json:"destinations"`
}

// filterArgs mirrors analyzer.FilterSpec with an optional owner override.
// Axes left out keep their defaults.
type filterArgs struct {
	Owner    string          `json:"owner"`
	Users    map[string]bool `json:"users"`
	Types    map[string]bool `json:"types"`
	Domains  map[string]bool `json:"domains"`
	Sessions map[string]bool `json:"sessions"`
	Versus   bool            `json:"versus"`
}

type confirmArgs struct {
	Confirm bool `json:"confirm"`
}

type transferArgs struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Confirm bool   `json:"confirm"`
}

type ingestArgs struct {
	Event normalize.Event `json:"event"`
}

const filterProperties = `"owner":{"type":"string","description":"Partition to read (default: current user)"},` +
	`"users":{"type":"object","additionalProperties":{"type":"boolean"},"description":"User id to enabled"},` +
	`"types":{"type":"object","additionalProperties":{"type":"boolean"},"description":"Check type to enabled"},` +
	`"domains":{"type":"object","additionalProperties":{"type":"boolean"},"description":"Domain tag to required"},` +
	`"sessions":{"type":"object","additionalProperties":{"type":"boolean"},"description":"Session id to enabled; _all disables session filtering"},` +
	`"versus":{"type":"boolean","description":"Match users against the opposing side instead of the roller"}`

var (
	noArgsSchema   = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
	confirmSchema  = json.RawMessage(`{"type":"object","properties":{"confirm":{"type":"boolean","description":"Must be true"}},"required":["confirm"],"additionalProperties":false}`)
	filterSchema   = json.RawMessage(`{"type":"object","properties":{` + filterProperties + `},"additionalProperties":false}`)
	transferSchema = json.RawMessage(`{"type":"object","properties":{"from":{"type":"string"},"to":{"type":"string"},"confirm":{"type":"boolean","description":"Must be true"}},"required":["from","to","confirm"],"additionalProperties":false}`)
	ingestSchema   = json.RawMessage(`{"type":"object","properties":{"event":{"type":"object","description":"Engine event: kind, messageId, message, delta"}},"required":["event"],"additionalProperties":false}`)
)

// addTools registers every MCP tool handler on s.
func addTools(s *Server) {
	s.registerTool(toolDef{
		Name:        "get_status",
		Description: "Capture state for the current user: active session, whether logging is on, and record counts.",
		InputSchema: noArgsSchema,
		Handler:     s.handleGetStatus,
	})
	s.registerTool(toolDef{
		Name:        "create_session",
		Description: "Open a new logging session and make it active. Capture state is unchanged.",
		InputSchema: noArgsSchema,
		Handler:     s.handleCreateSession,
	})
	s.registerTool(toolDef{
		Name:        "start_logging",
		Description: "Turn capture on, creating a session first if none is active.",
		InputSchema: noArgsSchema,
		Handler:     s.handleStartLogging,
	})
	s.registerTool(toolDef{
		Name:        "stop_logging",
		Description: "Turn capture off. The active session stays open.",
		InputSchema: noArgsSchema,
		Handler:     s.handleStopLogging,
	})
	s.registerTool(toolDef{
		Name:        "end_session",
		Description: "Turn capture off, stamp the active session as ended, and clear the active pointer.",
		InputSchema: noArgsSchema,
		Handler:     s.handleEndSession,
	})
	s.registerTool(toolDef{
		Name:        "erase_data",
		Description: "End the session and delete every session and roll for the current user. Requires confirm.",
		InputSchema: confirmSchema,
		Handler:     s.handleEraseData,
	})
	s.registerTool(toolDef{
		Name:        "list_transfer_candidates",
		Description: "Users with stored data that can be moved, and users that can receive it.",
		InputSchema: noArgsSchema,
		Handler:     s.handleListTransferCandidates,
	})
	s.registerTool(toolDef{
		Name:        "transfer",
		Description: "Merge one user's sessions and rolls into another's and delete the source. Requires confirm.",
		InputSchema: transferSchema,
		Handler:     s.handleTransfer,
	})
	s.registerTool(toolDef{
		Name:        "aggregate",
		Description: "Per-face outcome histogram for a user's roll log under the given filter.",
		InputSchema: filterSchema,
		Handler:     s.handleAggregate,
	})
	s.registerTool(toolDef{
		Name:        "timeline",
		Description: "Per-session outcome summaries, oldest first, under the given filter.",
		InputSchema: filterSchema,
		Handler:     s.handleTimeline,
	})
	s.registerTool(toolDef{
		Name:        "ingest_event",
		Description: "Run one engine chat event through the capture pipeline.",
		InputSchema: ingestSchema,
		Handler:     s.handleIngestEvent,
	})
}

func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (s *Server) owner() string {
	return s.deps.Sessions.Owner()
}

func (s *Server) sessionResult() SessionResult {
	return SessionResult{
		SessionID: s.deps.Sessions.ActiveSessionID(),
		Capturing: s.deps.Sessions.Capturing(),
	}
}

func (s *Server) handleGetStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	log, err := s.deps.Store.Read(ctx, s.owner())
	if err != nil {
		return nil, err
	}
	res := StatusResult{
		Owner:     s.owner(),
		Capturing: s.deps.Sessions.Capturing(),
		Sessions:  len(log.Sessions),
		Records:   log.RecordCount(),
	}
	if sess, ok := log.ActiveSession(); ok {
		res.ActiveSessionID = sess.ID
	}
	if s.deps.Directory != nil {
		res.PresentUsers = identity.PresentUsers(s.deps.Directory)
	}
	return res, nil
}

func (s *Server) handleCreateSession(ctx context.Context, _ json.RawMessage) (any, error) {
	if _, err := s.deps.Sessions.CreateSession(ctx); err != nil {
		return nil, err
	}
	return s.sessionResult(), nil
}

func (s *Server) handleStartLogging(ctx context.Context, _ json.RawMessage) (any, error) {
	if _, err := s.deps.Sessions.StartLogging(ctx); err != nil {
		return nil, err
	}
	return s.sessionResult(), nil
}

func (s *Server) handleStopLogging(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := s.deps.Sessions.StopLogging(ctx); err != nil {
		return nil, err
	}
	return s.sessionResult(), nil
}

func (s *Server) handleEndSession(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := s.deps.Sessions.EndSession(ctx); err != nil {
		return nil, err
	}
	return s.sessionResult(), nil
}

func (s *Server) handleEraseData(ctx context.Context, args json.RawMessage) (any, error) {
	var a confirmArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if !a.Confirm {
		return nil, errConfirmRequired
	}
	if err := s.deps.Sessions.EraseData(ctx); err != nil {
		return nil, err
	}
	return s.sessionResult(), nil
}

func (s *Server) handleListTransferCandidates(ctx context.Context, _ json.RawMessage) (any, error) {
	src, err := transfer.Sources(ctx, s.deps.Store, s.deps.Directory)
	if err != nil {
		return nil, err
	}
	dst, err := transfer.Destinations(ctx, s.deps.Store, s.deps.Directory)
	if err != nil {
		return nil, err
	}
	return CandidatesResult{Sources: src, Destinations: dst}, nil
}

func (s *Server) handleTransfer(ctx context.Context, args json.RawMessage) (any, error) {
	var a transferArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if !a.Confirm {
		return nil, errConfirmRequired
	}
	if err := transfer.Transfer(ctx, s.deps.Store, s.deps.Directory, a.From, a.To, s.deps.Notifier); err != nil {
		return nil, err
	}
	return map[string]string{"from": a.From, "to": a.To}, nil
}

// readFiltered decodes filter arguments and loads the requested partition.
func (s *Server) readFiltered(ctx context.Context, args json.RawMessage) (string, *roll.Log, analyzer.FilterSpec, error) {
	var a filterArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", nil, analyzer.FilterSpec{}, err
	}
	owner := a.Owner
	if owner == "" {
		owner = s.owner()
	}
	log, err := s.deps.Store.Read(ctx, owner)
	if err != nil {
		return "", nil, analyzer.FilterSpec{}, err
	}

	spec := analyzer.NewFilterSpec()
	spec.Versus = a.Versus
	maps.Copy(spec.Users, a.Users)
	maps.Copy(spec.Types, a.Types)
	maps.Copy(spec.Domains, a.Domains)
	maps.Copy(spec.Sessions, a.Sessions)
	return owner, log, spec, nil
}

func (s *Server) handleAggregate(ctx context.Context, args json.RawMessage) (any, error) {
	owner, log, spec, err := s.readFiltered(ctx, args)
	if err != nil {
		return nil, err
	}
	agg := analyzer.Aggregate(log, spec, s.deps.Viewer)

	res := AggregateResult{
		Owner:       owner,
		Filter:      agg.Filter,
		Faces:       []FaceSummary{},
		Users:       agg.Users,
		Types:       agg.Types,
		Domains:     agg.Domains,
		Sessions:    agg.Sessions,
		MultiRoller: agg.MultiRoller,
		MultiType:   agg.MultiType,
		Total:       agg.Total,
	}
	for _, f := range agg.Faces {
		if len(f.Rolls) == 0 {
			continue
		}
		res.Faces = append(res.Faces, FaceSummary{Die: f.Die, Total: len(f.Rolls), Buckets: f.Buckets})
	}
	return res, nil
}

func (s *Server) handleTimeline(ctx context.Context, args json.RawMessage) (any, error) {
	_, log, spec, err := s.readFiltered(ctx, args)
	if err != nil {
		return nil, err
	}
	return analyzer.Timeline(log, spec), nil
}

func (s *Server) handleIngestEvent(ctx context.Context, args json.RawMessage) (any, error) {
	if s.deps.Pipeline == nil {
		return nil, errors.New("capture pipeline not configured")
	}
	var a ingestArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Event.Kind == "" || len(a.Event.Message) == 0 {
		return nil, errEventRequired
	}
	return s.deps.Pipeline.Handle(ctx, a.Event)
}
