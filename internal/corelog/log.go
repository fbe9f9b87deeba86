// Package corelog wraps log/slog with the rotation and dual json/text
// fan-out used throughout the coordination service, so every component
// constructor takes an explicit *Logger instead of reaching for a
// package-level global.
package corelog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"slices"
	"time"

	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger adds leveled convenience methods and a known log file location
// on top of *slog.Logger. A nil *Logger is safe to call Debugf/Infof/
// Warnf/Errorf on: Warnf and Errorf fall back to the default slog
// logger, Debugf and Infof do nothing.
type Logger struct {
	*slog.Logger
	LogFile string
	LogDir  string
	Start   time.Time
}

// New builds a Logger. In both modes output is JSON to a rotating file
// under dir plus warnings/errors echoed to stderr. Server mode writes
// fleetcore.log (64 MB files, kept 14 days, compressed); foreground mode
// writes fleetcore-dev.log (32 MB files, one backup).
func New(server bool, level string, dir string) *Logger {
	if dir == "" {
		if server {
			dir = "fleetcore-logs"
		} else {
			dir = "."
		}
	}

	var w *lumberjack.Logger
	if server {
		w = &lumberjack.Logger{
			Filename: filepath.Join(dir, "fleetcore.log"),
			MaxSize:  64, // MB
			MaxAge:   14,
			Compress: true,
		}
	} else {
		w = &lumberjack.Logger{
			Filename:   filepath.Join(dir, "fleetcore-dev.log"),
			MaxSize:    32,
			MaxBackups: 1,
		}
	}

	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		if level != "" {
			fmt.Fprintf(os.Stderr, "%s: invalid log level, defaulting to info\n", level)
		}
	}

	h := newHandler(w, &slog.HandlerOptions{Level: lvl})
	l := &Logger{
		Logger:  slog.New(h),
		LogFile: w.Filename,
		LogDir:  dir,
		Start:   time.Now(),
	}

	l.Info("logging started", slog.Time("start", l.Start))
	l.Info("runtime", slog.String("goos", runtime.GOOS), slog.String("goarch", runtime.GOARCH),
		slog.Int("num_cpu", runtime.NumCPU()))

	if bi, ok := debug.ReadBuildInfo(); ok {
		l.Debug("build info", slog.String("go_version", bi.GoVersion), slog.String("path", bi.Path))
	}

	return l
}

func (l *Logger) Debugf(msg string, args ...any) {
	if l != nil && l.Logger.Enabled(nil, slog.LevelDebug) {
		l.Logger.Debug(fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Infof(msg string, args ...any) {
	if l != nil && l.Logger.Enabled(nil, slog.LevelInfo) {
		l.Logger.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Warnf(msg string, args ...any) {
	if l == nil {
		slog.Warn(fmt.Sprintf(msg, args...))
		return
	}
	l.Logger.Warn(fmt.Sprintf(msg, args...))
}

func (l *Logger) Errorf(msg string, args ...any) {
	if l == nil {
		slog.Error(fmt.Sprintf(msg, args...))
		return
	}
	l.Logger.Error(fmt.Sprintf(msg, args...))
}

// With returns a Logger that prepends the given attrs to every record,
// preserving LogFile/Start bookkeeping.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:  l.Logger.With(args...),
		LogFile: l.LogFile,
		LogDir:  l.LogDir,
		Start:   l.Start,
	}
}

// CatchAndReportCrash is deferred at the top of long-lived goroutines; it
// logs the panic and writes a crash dump next to the log file rather than
// letting the process die silently.
func (l *Logger) CatchAndReportCrash() any {
	err := recover()
	if err == nil {
		return nil
	}

	l.Errorf("crashed: %v", err)

	report := fmt.Sprintf("crashed: %v\n%s: %s\n%s", err, runtime.GOOS, runtime.GOARCH, debug.Stack())
	fn := filepath.Join(l.LogDir, "crash-"+time.Now().UTC().Format(time.RFC3339)+".txt")
	_ = os.WriteFile(fn, []byte(report), 0o600)

	return err
}

///////////////////////////////////////////////////////////////////////////

// handler fans records out to a JSON file handler and a stderr text
// handler restricted to warnings and above.
type handler struct {
	json slog.Handler
	txt  slog.Handler
}

func newHandler(w io.Writer, opts *slog.HandlerOptions) *handler {
	return &handler{
		json: slog.NewJSONHandler(w, opts),
		txt:  slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.json.Enabled(ctx, level) || h.txt.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, rec slog.Record) error {
	if h.txt.Enabled(ctx, rec.Level) {
		_ = h.txt.Handle(ctx, rec)
	}
	if h.json.Enabled(ctx, rec.Level) {
		return h.json.Handle(ctx, rec)
	}
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{
		json: h.json.WithAttrs(slices.Clone(attrs)),
		txt:  h.txt.WithAttrs(slices.Clone(attrs)),
	}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{
		json: h.json.WithGroup(name),
		txt:  h.txt.WithGroup(name),
	}
}
