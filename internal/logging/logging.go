// Package logging builds the process logger and routes supervisor events
// into it.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/thejerf/suture/v4"
)

// ParseLevel accepts debug, info, warn and error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("logging: unknown level %q", s)
	}
	return l, nil
}

// New returns a text logger writing records at level or above to w.
func New(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// EventHook logs supervisor events. Terminations are warnings, panics and
// stop timeouts are errors, everything else is debug noise. suture emits no
// event for a service that exits with ErrDoNotRestart, so worker exits are
// not seen here.
func EventHook(log *slog.Logger) suture.EventHook {
	log = log.With("component", "supervisor")
	return func(ev suture.Event) {
		level := slog.LevelDebug
		switch ev.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			level = slog.LevelError
		case suture.EventTypeServiceTerminate:
			level = slog.LevelWarn
		}
		m := ev.Map()
		attrs := make([]any, 0, 2*len(m))
		for _, k := range slices.Sorted(maps.Keys(m)) {
			attrs = append(attrs, k, m[k])
		}
		log.Log(context.Background(), level, ev.String(), attrs...)
	}
}
