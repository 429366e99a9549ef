//go:build race

package port

import "testing"

// skipRing skips the lfq ring transport under the race detector. SPSC
// publishes slots with cross-variable acquire/release ordering that the
// detector cannot follow, so it reports false positives.
func skipRing(tb testing.TB, transport string) {
	tb.Helper()
	if transport == "ring" {
		tb.Skip("skip: SPSC uses cross-variable memory ordering")
	}
}
