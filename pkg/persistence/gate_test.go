package persistence_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mindburn-Labs/helm-pm/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) *persistence.Gate {
	t.Helper()
	stateFile := filepath.Join(t.TempDir(), "state.json")
	g, err := persistence.NewGate(stateFile, 500*time.Millisecond)
	require.NoError(t, err)
	return g
}

func TestGate_ReadOnlyOperationOnEmptyStateDoesNotError(t *testing.T) {
	g := newTestGate(t)
	out, err := g.Dispatch(map[string]interface{}{
		"operation": "doctor",
		"request":   map[string]interface{}{},
	}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	assert.Equal(t, "doctor", out["operation"])
}

func TestGate_WriteOperationPersistsAcrossNewGate(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")

	g1, err := persistence.NewGate(stateFile, 500*time.Millisecond)
	require.NoError(t, err)

	envelope := map[string]interface{}{
		"operation": "ingest",
		"storeId":   "store-a",
		"request": map[string]interface{}{
			"events": []interface{}{
				map[string]interface{}{"type": "submission", "source": "editor", "content": map[string]interface{}{"statement": "x"}},
			},
		},
	}
	out1, err := g1.Dispatch(envelope, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	assert.Equal(t, "updated", out1["action"])

	if _, statErr := os.Stat(stateFile); statErr != nil {
		t.Fatalf("expected state file to exist after a write: %v", statErr)
	}

	g2, err := persistence.NewGate(stateFile, 500*time.Millisecond)
	require.NoError(t, err)
	out2, err := g2.Dispatch(envelope, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	assert.Equal(t, "noop", out2["action"], "second gate instance should rehydrate and see the same replay cache")
}

func TestGate_CorruptStateFileSurfacesTypedError(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte("not json"), 0600))

	g, err := persistence.NewGate(stateFile, 500*time.Millisecond)
	require.NoError(t, err)

	_, err = g.Dispatch(map[string]interface{}{
		"operation": "doctor",
		"request":   map[string]interface{}{},
	}, "2026-01-01T00:00:00.000Z")
	require.Error(t, err)
	_, ok := err.(*persistence.StateFileCorruptError)
	assert.True(t, ok, "expected *StateFileCorruptError, got %T", err)
}

func TestGate_LockTimeoutWhenLockFileHeld(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	lockPath := stateFile + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	require.NoError(t, err)
	defer f.Close()
	defer os.Remove(lockPath)

	g, err := persistence.NewGate(stateFile, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = g.Dispatch(map[string]interface{}{
		"operation": "misconception_update",
		"storeId":   "store-a",
		"request": map[string]interface{}{
			"misconceptionKey": "off-by-one",
			"evidenceEventIds": []interface{}{"evt_1"},
			"signalId":         "sig_1",
		},
	}, "2026-01-01T00:00:00.000Z")
	require.Error(t, err)
	_, ok := err.(*persistence.StateLockTimeoutError)
	assert.True(t, ok, "expected *StateLockTimeoutError, got %T", err)
}
