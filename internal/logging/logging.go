// Package logging builds the process logger: a text handler on stderr, a
// rotating log file and, under systemd, the journal.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level       string
	File        string
	MaxBytes    int64
	BackupCount int
	// Stderr overrides the terminal writer, mostly for tests.
	Stderr io.Writer
}

// New returns the fan-out logger and a closer for the log file.
func New(opts Options) (*slog.Logger, io.Closer) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(opts.Level))
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	handlers = append(handlers, slog.NewTextHandler(stderr, handlerOpts))

	var closer io.Closer = nopCloser{}
	if file := strings.TrimSpace(opts.File); file != "" {
		if dir := filepath.Dir(file); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    megabytes(opts.MaxBytes),
			MaxBackups: opts.BackupCount,
		}
		handlers = append(handlers, slog.NewTextHandler(rotator, handlerOpts))
		closer = rotator
	}

	if isSystemdService() {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			ReplaceGroup: toJournalKey,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err == nil {
			handlers = append(handlers, leveled{Handler: journal, level: level})
		}
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer
}

// ParseLevel maps DEBUG, INFO, WARN/WARNING and ERROR; anything else is INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// megabytes rounds a byte budget up to lumberjack's MB unit.
func megabytes(n int64) int {
	if n <= 0 {
		return 0
	}
	const mb = 1 << 20
	return int((n + mb - 1) / mb)
}

type leveled struct {
	slog.Handler
	level slog.Leveler
}

func (h leveled) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.Handler.Enabled(ctx, l)
}

func (h leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return leveled{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h leveled) WithGroup(name string) slog.Handler {
	return leveled{Handler: h.Handler.WithGroup(name), level: h.level}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
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
