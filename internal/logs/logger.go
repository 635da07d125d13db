// Package logs builds the process logger: a text handler on the terminal,
// fanned out to the systemd journal when one is reachable.
package logs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Options configures New.
type Options struct {
	// Level is shared by every handler so it can be changed at runtime.
	Level *slog.LevelVar
	// Writer receives the text output. Defaults to os.Stderr.
	Writer io.Writer
	// Journal enables the systemd journal handler.
	Journal bool
}

// New returns a logger for opts. When the process runs as a systemd service
// the terminal handler is dropped in favour of the journal.
func New(opts Options) *slog.Logger {
	level := opts.Level
	if level == nil {
		level = new(slog.LevelVar)
	}
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	terminal := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	if !opts.Journal {
		return slog.New(terminal)
	}

	var handlers []slog.Handler
	if !isSystemdService() {
		handlers = append(handlers, terminal)
	}

	journal, err := slogjournal.NewHandler(&slogjournal.Options{
		Level: level,
		ReplaceGroup: func(key string) string {
			return toJournalKey(key)
		},
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a.Key = toJournalKey(a.Key)
			return a
		},
	})
	if err != nil {
		record := slog.NewRecord(time.Now(), slog.LevelWarn, "journal_unavailable", 0)
		record.Add("error", err)
		_ = terminal.Handle(context.Background(), record)
		return slog.New(terminal)
	}
	handlers = append(handlers, journal)

	return slog.New(slogmulti.Fanout(handlers...))
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// toJournalKey upper-cases key and replaces anything outside [A-Z0-9] with
// an underscore, as journald field names require.
func toJournalKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}

func isSystemdService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) < 3 {
		return false
	}
	return strings.HasSuffix(path.Dir(parts[2]), ".service")
}
