// Package feed is the adapter between an external event source and the
// record path. Events arrive as JSON lines, one normalize.Event per line,
// either from a stream or appended to a file that is tailed.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blackwell-systems/d20meter/internal/normalize"
	"github.com/fsnotify/fsnotify"
)

// Handler consumes one decoded event.
type Handler func(ctx context.Context, ev normalize.Event) error

// maxLine bounds a single event line. Chat messages with embedded rolls can
// be large.
const maxLine = 4 << 20

// Decode reads JSON lines from r and passes each event to handle. Malformed
// lines and handler failures are logged and skipped; only context
// cancellation and read errors stop the stream. Returns the number of events
// handled successfully.
func Decode(ctx context.Context, r io.Reader, handle Handler, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	n := 0
	lineNo := 0
	for sc.Scan() {
		lineNo++
		ok, err := dispatch(ctx, sc.Bytes(), handle, logger, lineNo)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, sc.Err()
}

// dispatch decodes and handles one line. ok is false for skipped lines.
func dispatch(ctx context.Context, line []byte, handle Handler, logger *slog.Logger, lineNo int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false, nil
	}

	var ev normalize.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		logger.Warn("skipping malformed event", "line", lineNo, "error", err)
		return false, nil
	}
	if err := handle(ctx, ev); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		logger.Error("event not recorded", "message", ev.ID(), "error", err)
		return false, nil
	}
	return true, nil
}

// Tailer follows a JSONL event file, handling lines as they are appended.
// It wakes on fsnotify write events and on a fixed interval, since some
// filesystems do not deliver change notifications.
type Tailer struct {
	path     string
	interval time.Duration
	handle   Handler
	logger   *slog.Logger

	offset int64
	lines  int
}

// NewTailer creates a Tailer for path. Call Seek to skip existing content.
func NewTailer(path string, interval time.Duration, handle Handler, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Tailer{path: path, interval: interval, handle: handle, logger: logger}
}

// Offset returns the byte offset just past the last consumed line.
func (t *Tailer) Offset() int64 { return t.offset }

// Seek sets the offset the next Poll reads from.
func (t *Tailer) Seek(offset int64) { t.offset = offset }

// SeekEnd positions the tailer at the current end of the file so only new
// events are handled.
func (t *Tailer) SeekEnd() error {
	info, err := os.Stat(t.path)
	if errors.Is(err, os.ErrNotExist) {
		t.offset = 0
		return nil
	}
	if err != nil {
		return err
	}
	t.offset = info.Size()
	return nil
}

// Poll handles every complete line appended since the last call. A trailing
// line without a newline is left for the next poll. A file shorter than the
// offset is treated as truncated and read from the start.
func (t *Tailer) Poll(ctx context.Context) (int, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("opening event feed: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() < t.offset {
		t.logger.Warn("event feed truncated, rereading", "path", t.path)
		t.offset = 0
		t.lines = 0
	}
	if info.Size() == t.offset {
		return 0, nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(io.LimitReader(f, info.Size()-t.offset))
	if err != nil {
		return 0, fmt.Errorf("reading event feed: %w", err)
	}

	n := 0
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		data = data[idx+1:]
		t.offset += int64(idx + 1)
		t.lines++

		ok, err := dispatch(ctx, line, t.handle, t.logger, t.lines)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Run polls once, then on every change notification and interval tick.
// Blocks until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) error {
	if _, err := t.Poll(ctx); err != nil {
		return err
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn("file notifications unavailable, polling only", "error", err)
	} else {
		defer func() { _ = watcher.Close() }()
		// Watch the directory so the feed may be created or replaced.
		if err := watcher.Add(filepath.Dir(t.path)); err != nil {
			t.logger.Warn("cannot watch feed directory, polling only", "error", err)
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != filepath.Base(t.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, err := t.Poll(ctx); err != nil {
				return err
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.logger.Warn("file notification error", "error", err)

		case <-ticker.C:
			if _, err := t.Poll(ctx); err != nil {
				return err
			}
		}
	}
}
