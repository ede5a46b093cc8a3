package dispatch_test

import (
	"testing"

	"github.com/Mindburn-Labs/helm-pm/pkg/dispatch"
	"github.com/Mindburn-Labs/helm-pm/pkg/tenants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	d, err := dispatch.New(tenants.NewRegistry())
	require.NoError(t, err)
	return d
}

func TestDispatch_RejectsMissingOperation(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Dispatch(map[string]interface{}{"request": map[string]interface{}{}}, "2026-01-01T00:00:00.000Z")
	assert.Error(t, err)
}

func TestDispatch_RejectsUnsupportedOperation(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Dispatch(map[string]interface{}{
		"operation": "not_a_real_operation",
		"request":   map[string]interface{}{},
	}, "2026-01-01T00:00:00.000Z")
	require.Error(t, err)
	_, ok := err.(*dispatch.UnsupportedOperationError)
	assert.True(t, ok, "expected *UnsupportedOperationError, got %T", err)
}

func TestDispatch_FoldsAliases(t *testing.T) {
	d := newTestDispatcher(t)
	out, err := d.Dispatch(map[string]interface{}{
		"operation": "degraded_tutor",
		"request":   map[string]interface{}{},
	}, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	assert.Equal(t, "tutor_degraded", out["operation"])
}

func TestDispatch_IngestIsReplaySafe(t *testing.T) {
	d := newTestDispatcher(t)
	envelope := map[string]interface{}{
		"operation": "ingest",
		"storeId":   "store-a",
		"request": map[string]interface{}{
			"events": []interface{}{
				map[string]interface{}{"type": "submission", "source": "editor", "content": map[string]interface{}{"statement": "x"}},
			},
		},
	}
	first, err := d.Dispatch(envelope, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	assert.Equal(t, "updated", first["action"])

	second, err := d.Dispatch(envelope, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)
	assert.Equal(t, "noop", second["action"])
	assert.Equal(t, first["ledgerDigest"], second["ledgerDigest"])
}

func TestDispatch_StoresAreIsolated(t *testing.T) {
	d := newTestDispatcher(t)
	envelope := map[string]interface{}{
		"operation": "misconception_update",
		"storeId":   "store-a",
		"request": map[string]interface{}{
			"misconceptionKey": "off-by-one",
			"evidenceEventIds": []interface{}{"evt_1"},
			"signalId":         "sig_1",
		},
	}
	out1, err := d.Dispatch(envelope, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)

	envelope["storeId"] = "store-b"
	out2, err := d.Dispatch(envelope, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)

	assert.Equal(t, "updated", out1["action"])
	assert.Equal(t, "updated", out2["action"])
}
