package common

import (
	"strings"
	"testing"
)

func TestScopedID(t *testing.T) {
	a := ScopedID("worker")
	b := ScopedID("worker")
	if !strings.HasPrefix(a, "worker.") {
		t.Errorf("missing scope prefix: %q", a)
	}
	if a == b {
		t.Errorf("ids should be unique: %q == %q", a, b)
	}
}

func TestAssertPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected Assert(false) to panic")
		}
	}()
	Assert(false, "boom")
}
