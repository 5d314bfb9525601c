package testsupport

import (
	"testing"

	"spool/internal/config"
	"spool/internal/state"
)

// MustOpenStore opens a state store for the supplied config and closes it
// when the test finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *state.Store {
	t.Helper()
	store, err := state.Open(cfg)
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
