package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blackwell-systems/d20meter/internal/capture"
	"github.com/blackwell-systems/d20meter/internal/config"
	"github.com/blackwell-systems/d20meter/internal/feed"
	"github.com/blackwell-systems/d20meter/internal/normalize"
	"github.com/blackwell-systems/d20meter/internal/output"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	watchEvents    string
	watchDaemon    bool
	watchInterval  time.Duration
	watchStop      bool
	watchQuiet     bool
	watchFromStart bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow an event feed and record rolls as they happen",
	Long: `Tail a JSON-lines event file written by the game client and run every
new event through the capture pipeline. The file is re-read on change
notifications and on a fixed interval.

Examples:
  d20meter watch --events ~/foundry/events.jsonl             # foreground (ctrl-c to stop)
  d20meter watch --events events.jsonl --from-start          # replay existing events first
  d20meter watch --events events.jsonl --daemon              # background mode, write PID file
  d20meter watch --stop                                      # stop the background daemon`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchEvents, "events", "", "JSON-lines event file to follow")
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "Run in background mode (write PID file, log to file)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Poll interval (default: feed.interval from config)")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "Stop a running background daemon")
	watchCmd.Flags().BoolVar(&watchQuiet, "quiet", false, "Suppress per-roll terminal output")
	watchCmd.Flags().BoolVar(&watchFromStart, "from-start", false, "Handle events already in the file before following it")
	rootCmd.AddCommand(watchCmd)
}

// pidFilePath returns the path to the daemon PID file.
func pidFilePath() string {
	return config.PIDPath()
}

// logFilePath returns the path to the daemon log file.
func logFilePath() string {
	return filepath.Join(config.ConfigDir(), "watch.log")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchStop {
		return stopDaemon()
	}
	if watchEvents == "" {
		return errors.New("--events is required")
	}

	if watchDaemon {
		return runDaemon(cmd)
	}
	return runForeground(cmd)
}

// runForeground follows the feed with live terminal output.
func runForeground(cmd *cobra.Command) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	w := cmd.OutOrStdout()
	if !watchQuiet {
		fmt.Fprintf(w, "d20meter watching %s as %s...\n", watchEvents, e.displayName(e.owner))
	}

	var onResult func(normalize.Event, capture.Result)
	if !watchQuiet {
		onResult = func(ev normalize.Event, res capture.Result) {
			printResult(w, e, ev, res)
		}
	}

	var t tally
	err = follow(cmd.Context(), e, recordHandler(e.pipeline, &t, onResult))
	if errors.Is(err, context.Canceled) {
		if !watchQuiet {
			fmt.Fprintf(w, "\nStopped. %d recorded, %d dropped.\n", t.Recorded, t.Dropped)
		}
		return nil
	}
	return err
}

// runDaemon sets up PID and log files, then follows the feed. The actual
// backgrounding should be done by the caller (nohup, &, etc.) since Go
// cannot reliably fork.
func runDaemon(cmd *cobra.Command) error {
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	if pid, err := readPID(); err == nil {
		if processExists(pid) {
			return fmt.Errorf("daemon already running (PID %d). Use --stop to stop it", pid)
		}
		_ = os.Remove(pidFilePath())
	}

	pid := os.Getpid()
	if err := os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(pidFilePath()) }()

	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	e, err := openEnvWith(cmd, envOptions{logWriter: logFile})
	if err != nil {
		return err
	}
	defer e.Close()

	e.logger.Info("daemon started", "pid", pid, "events", watchEvents)
	var t tally
	err = follow(cmd.Context(), e, recordHandler(e.pipeline, &t, nil))
	if errors.Is(err, context.Canceled) {
		e.logger.Info("daemon stopped", "recorded", t.Recorded, "dropped", t.Dropped)
		return nil
	}
	return err
}

// follow runs the tailer until a shutdown signal arrives or the tailer fails.
func follow(parent context.Context, e *env, handle feed.Handler) error {
	if parent == nil {
		parent = context.Background()
	}
	interval := watchInterval
	if interval <= 0 {
		interval = e.cfg.Feed.Interval
	}

	tailer := feed.NewTailer(watchEvents, interval, handle, e.logger)
	if !watchFromStart {
		if err := tailer.SeekEnd(); err != nil {
			return fmt.Errorf("opening event feed: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(parent, shutdownSignals...)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tailer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		e.logger.Debug("feed stopping", "offset", tailer.Offset())
		return gctx.Err()
	})
	return g.Wait()
}

// readPID reads the daemon PID from the PID file.
func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// printResult prints one line per recorded or dropped roll.
func printResult(w io.Writer, e *env, ev normalize.Event, res capture.Result) {
	if res.Shape == "" {
		return
	}
	timestamp := time.Now().Format("15:04:05")
	switch {
	case len(res.Recorded) > 0:
		fmt.Fprintf(w, "[%s] %s %s: %d recorded (session %s)\n",
			timestamp, output.StyleSuccess.Render(checkMark()), res.Shape, len(res.Recorded), e.sessions.ActiveSessionID())
	case res.Dropped > 0:
		fmt.Fprintf(w, "[%s] %s %s: %d dropped, logging is off\n",
			timestamp, output.StyleWarning.Render("!"), res.Shape, res.Dropped)
	}
	e.logger.Debug("event handled", "message", ev.ID(), "shape", res.Shape)
}

// checkMark returns a terminal check mark indicator.
func checkMark() string {
	return "\xe2\x9c\x93"
}
