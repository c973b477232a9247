// Package logger owns the process-wide slog instance. Every component logs
// through L() (or the package-level shortcuts), so reconfiguring the level or
// format is a single Init call at startup.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blinkdate/matchmaking/internal/config"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config selects output shape for the global logger.
type Config struct {
	Level      string
	Format     Format
	Component  string
	WithSource bool
}

// defaults apply until Init runs, and fill an Init(nil) call. Production
// passes the env-derived config; tests mostly log text at debug.
var defaults = Config{
	Level:     "info",
	Format:    FormatText,
	Component: "matchmaking",
}

var (
	mu     sync.RWMutex
	cfg    = defaults
	global *slog.Logger
)

// InitFromConfig initializes the global logger from app config.
func InitFromConfig(c *config.Config) {
	if c == nil {
		Init(nil)
		return
	}
	Init(&Config{
		Level:      c.Log.Level,
		Format:     Format(c.Log.Format),
		Component:  c.Log.Component,
		WithSource: c.Log.Source,
	})
}

// Init sets up the global logger. Safe to call multiple times; the last call
// wins.
func Init(c *Config) {
	mu.Lock()
	defer mu.Unlock()

	if c == nil {
		cfg = defaults
	} else {
		cfg = *c
	}

	log := slog.New(newHandler(cfg))
	if cfg.Component != "" {
		log = log.With("component", cfg.Component)
	}
	global = log
}

func newHandler(c Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(c.Level),
		AddSource: c.WithSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Human-readable timestamps in text mode; JSON keeps RFC 3339.
			if a.Key == slog.TimeKey && c.Format == FormatText {
				return slog.String(slog.TimeKey, time.Now().Format("2006-01-02 15:04:05"))
			}
			return a
		},
	}

	if strings.EqualFold(string(c.Format), string(FormatJSON)) {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

// L returns the global logger, initializing the default one on first use.
func L() *slog.Logger {
	mu.RLock()
	if global != nil {
		defer mu.RUnlock()
		return global
	}
	mu.RUnlock()

	Init(nil)

	mu.RLock()
	defer mu.RUnlock()
	return global
}

// With creates a child logger carrying extra attributes.
func With(args ...any) *slog.Logger { return L().With(args...) }

func Debug(msg string, args ...any) { L().Debug(msg, args...) }
func Info(msg string, args ...any)  { L().Info(msg, args...) }
func Warn(msg string, args ...any)  { L().Warn(msg, args...) }
func Error(msg string, args ...any) { L().Error(msg, args...) }

func parseLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
