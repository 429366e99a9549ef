package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		" warn": slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.LevelWarn, &buf)
	log.Info("hidden")
	log.Warn("shown", "worker", "w1")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "worker=w1") {
		t.Errorf("unexpected output %q", out)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// failing crashes once, then runs until stopped. suture only reports
// terminations of services it is going to restart.
type failing struct{ crashed atomic.Bool }

func (f *failing) Serve(ctx context.Context) error {
	if f.crashed.CompareAndSwap(false, true) {
		return errors.New("loader crashed")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestEventHookLogsTermination(t *testing.T) {
	var buf lockedBuffer
	sv := suture.New("test", suture.Spec{EventHook: EventHook(New(slog.LevelDebug, &buf))})
	sv.Add(&failing{})
	ctx, cancel := context.WithCancel(t.Context())
	errc := sv.ServeBackground(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(buf.String(), "loader crashed") {
		if time.Now().After(deadline) {
			t.Fatalf("no supervisor event logged: %q", buf.String())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-errc
	if out := buf.String(); !strings.Contains(out, "level=WARN") {
		t.Errorf("termination not logged as a warning: %q", out)
	}
}
