package logging

import (
	"io"
	"log/slog"
	"os"
)

// New builds the process logger. Production gets JSON at info level,
// everything else text at debug level.
func New(env string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	var h slog.Handler
	if env == "production" || env == "prod" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(h).With(slog.String("env", env))
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Err records an error under "error". Nil errors produce an empty attr.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Step names a secondary-effect step.
func Step(name string) slog.Attr { return slog.String("step", name) }

func Org(id string) slog.Attr { return slog.String("org_id", id) }

func Student(id string) slog.Attr { return slog.String("student_id", id) }

func Event(name string) slog.Attr { return slog.String("event_type", name) }

func Component(name string) slog.Attr { return slog.String("component", name) }
