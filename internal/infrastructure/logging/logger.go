package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-fah/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "fahbridge"

// Redacted replaces the value of any attribute whose key names a secret.
const Redacted = "[REDACTED]"

// secretKeys are matched case-insensitively against the last segment of an
// attribute key, so "sysap.password" and "Password" are both caught. Any
// key ending in secretKeySuffix is a secret too; a bare "key" is not.
var secretKeys = map[string]struct{}{
	"password": {},
	"token":    {},
	"secret":   {},
}

const secretKeySuffix = "_key"

// Logger is the bridge's structured logger. Its method set satisfies the
// Logger interfaces of the fah, device, bridge and mqtt packages.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the configuration.
// Output "stderr" writes to standard error; anything else to standard output.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter is New with an explicit destination. cfg.Output is ignored.
//
// Entries carry service and version attributes. Format "text" selects
// slog's text handler, anything else JSON.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With(
			slog.String("service", ServiceName),
			slog.String("version", version),
		),
	}
}

// parseLevel maps debug, info, warn(ing) and error onto slog levels.
// Unknown strings mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redact hides secret values. Groups are walked by slog itself.
func redact(_ []string, a slog.Attr) slog.Attr {
	if isSecret(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	return a
}

func isSecret(key string) bool {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	key = strings.ToLower(key)
	if strings.HasSuffix(key, secretKeySuffix) {
		return true
	}
	_, ok := secretKeys[key]
	return ok
}

// With returns a child logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged component=name.
//
//	session, _ := fah.New(cfg, fah.WithLogger(log.Component("sysap")))
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}
