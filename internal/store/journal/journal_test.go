package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, "order_executed", map[string]any{"signal_id": "sig-1", "order_id": "ord-1"}))
	require.NoError(t, j.Append(ctx, "order_executed", map[string]any{"signal_id": "sig-2", "order_id": "ord-2"}))
	require.NoError(t, j.Append(ctx, "reconcile_divergence", map[string]any{"symbol": "BTCUSDT"}))

	got, err := j.Recent(ctx, "order_executed", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Payload, "sig-2")
	assert.Contains(t, got[1].Payload, "sig-1")

	got, err = j.Recent(ctx, "reconcile_divergence", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Payload, "BTCUSDT")
}

func TestRecentRespectsLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(ctx, "tick", map[string]int{"n": i}))
	}
	got, err := j.Recent(ctx, "tick", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestAppendSurvivesUnmarshalablePayload(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, "weird", map[string]any{"fn": func() {}}))

	got, err := j.Recent(ctx, "weird", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Payload, "marshal_error")
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
