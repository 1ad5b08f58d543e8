// Package notify delivers one-line user-visible notifications. Failures the
// user must see (dropped captures, rejected transfers) go through a Notifier
// rather than being returned as structured errors.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warning"
)

// Notifier shows a one-line message to the user.
type Notifier interface {
	Notify(level Level, msg string)
}

// Info sends an info-level message. A nil notifier discards it.
func Info(n Notifier, format string, args ...any) {
	if n == nil {
		return
	}
	n.Notify(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn sends a warning. A nil notifier discards it.
func Warn(n Notifier, format string, args ...any) {
	if n == nil {
		return
	}
	n.Notify(LevelWarn, fmt.Sprintf(format, args...))
}

// Terminal writes styled one-liners to W.
type Terminal struct {
	W     io.Writer
	Plain bool

	mu sync.Mutex
}

var (
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#64b5f6"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff59d")).Bold(true)
)

// Notify implements Notifier.
func (t *Terminal) Notify(level Level, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tag := "[" + string(level) + "]"
	if !t.Plain {
		switch level {
		case LevelWarn:
			tag = warnStyle.Render(tag)
		default:
			tag = infoStyle.Render(tag)
		}
	}
	_, _ = fmt.Fprintf(t.W, "%s %s\n", tag, msg)
}

// Message is a notification captured by a Recorder.
type Message struct {
	Level Level
	Text  string
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Notify implements Notifier.
func (r *Recorder) Notify(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Level: level, Text: msg})
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Count returns how many notifications at level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.Level == level {
			n++
		}
	}
	return n
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(level Level, msg string) {
	for _, n := range m {
		if n != nil {
			n.Notify(level, msg)
		}
	}
}
