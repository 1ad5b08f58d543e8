package notify

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
)

// Desktop sends a native desktop notification. On macOS it uses osascript,
// on Linux it tries notify-send. If neither is available, it falls back to
// writing the message to Fallback (stderr when nil).
type Desktop struct {
	Title    string
	Fallback io.Writer
}

// Notify implements Notifier.
func (d Desktop) Notify(level Level, msg string) {
	switch runtime.GOOS {
	case "darwin":
		d.notifyMacOS(level, msg)
	case "linux":
		d.notifyLinux(level, msg)
	default:
		d.notifyFallback(level, msg)
	}
}

func (d Desktop) title() string {
	if d.Title == "" {
		return "d20meter"
	}
	return d.Title
}

// notifyMacOS sends a notification via osascript on macOS.
func (d Desktop) notifyMacOS(level Level, msg string) {
	script := fmt.Sprintf(
		`display notification %q with title %q subtitle %q`,
		msg, d.title(), string(level),
	)
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		d.notifyFallback(level, msg)
	}
}

// notifyLinux sends a notification via notify-send on Linux.
func (d Desktop) notifyLinux(level Level, msg string) {
	if _, err := exec.LookPath("notify-send"); err != nil {
		d.notifyFallback(level, msg)
		return
	}

	urgency := "normal"
	if level == LevelWarn {
		urgency = "critical"
	}
	if err := exec.Command("notify-send", "-u", urgency, d.title(), msg).Run(); err != nil {
		d.notifyFallback(level, msg)
	}
}

func (d Desktop) notifyFallback(level Level, msg string) {
	w := d.Fallback
	if w == nil {
		w = os.Stderr
	}
	_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", level, d.title(), msg)
}
