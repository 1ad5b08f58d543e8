package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/blackwell-systems/d20meter/internal/analyzer"
	"github.com/blackwell-systems/d20meter/internal/capture"
	"github.com/blackwell-systems/d20meter/internal/config"
	"github.com/blackwell-systems/d20meter/internal/identity"
	"github.com/blackwell-systems/d20meter/internal/normalize"
	"github.com/blackwell-systems/d20meter/internal/notify"
	"github.com/blackwell-systems/d20meter/internal/observability"
	"github.com/blackwell-systems/d20meter/internal/output"
	"github.com/blackwell-systems/d20meter/internal/session"
	"github.com/blackwell-systems/d20meter/internal/store"
	"github.com/spf13/cobra"
)

// env is the wired runtime shared by every command: config, logger, store,
// identity snapshot, and the session manager and capture pipeline for the
// capturing user.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *store.DB
	dir      *identity.Roster
	notifier notify.Notifier
	sessions *session.Manager
	pipeline *capture.Pipeline
	owner    string
}

// envOptions lets a command redirect logging, e.g. the watch daemon's log file.
type envOptions struct {
	logWriter io.Writer
}

// openEnv loads config and opens everything a command needs. Callers must
// Close the returned env.
func openEnv(cmd *cobra.Command) (*env, error) {
	return openEnvWith(cmd, envOptions{})
}

func openEnvWith(cmd *cobra.Command, opts envOptions) (*env, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Output.Color {
		output.SetNoColor(true)
	}

	level := cfg.Log.Level
	if flagVerbose {
		level = "debug"
	}
	logWriter := opts.logWriter
	if logWriter == nil {
		logWriter = cmd.ErrOrStderr()
	}
	logger, err := observability.New(logWriter, level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}

	dir, err := identity.LoadRoster(cfg.RosterPath)
	if err != nil {
		return nil, err
	}

	owner := cfg.Owner
	if owner == "" {
		owner = dir.CurrentUser().ID
	}
	if owner == "" {
		return nil, fmt.Errorf("no capturing user: set owner in config or current_user in %s", cfg.RosterPath)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening roll store: %w", err)
	}

	var notifier notify.Notifier = &notify.Terminal{W: cmd.ErrOrStderr(), Plain: output.IsNoColor()}
	if cfg.Notifications.Desktop {
		notifier = notify.Multi{notifier, notify.Desktop{Fallback: io.Discard}}
	}

	sessions := session.NewManager(db, owner, session.Options{
		Notifier:              notifier,
		Logger:                logger,
		ClosePreviousOnCreate: cfg.Session.ClosePreviousOnCreate,
		AutoStartMinUsers:     cfg.Session.AutoStartMinUsers,
	})
	if err := sessions.Load(cmd.Context()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("loading session state: %w", err)
	}

	normalizer := normalize.New(dir, normalize.Options{
		StratagemFlavor:  cfg.Normalizer.StratagemFlavor,
		KnowledgeMarkers: cfg.Normalizer.KnowledgeMarkers,
		KnowledgeDomain:  cfg.Normalizer.KnowledgeDomain,
	}, logger)

	return &env{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		dir:      dir,
		notifier: notifier,
		sessions: sessions,
		pipeline: &capture.Pipeline{
			Normalizer: normalizer,
			Sessions:   sessions,
			Store:      db,
			Directory:  dir,
			Logger:     logger,
		},
		owner: owner,
	}, nil
}

// Close releases the store.
func (e *env) Close() {
	_ = e.db.Close()
}

// viewer describes the capturing user to the aggregator. Game masters see
// every user's rolls by default.
func (e *env) viewer() analyzer.Viewer {
	u, _ := e.dir.User(e.owner)
	return analyzer.Viewer{
		UserID:     e.owner,
		Privileged: u.GM,
		Name:       e.displayName,
	}
}

func (e *env) displayName(id string) string {
	return identity.DisplayName(e.dir, id)
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
