package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bom-enricher/internal/common/errors"
	"bom-enricher/internal/models"
	"bom-enricher/internal/redis"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewStore(client, time.Hour), mr
}

func TestStore_CheckpointAndGet(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	exec := &Execution{
		ExecutionID: "exec-1",
		BusinessKey: "MPN-123",
		TenantID:    "T1",
		Step:        StepSupplierQuery,
		Attempt:     2,
		Record:      &models.ComponentRecord{Identifier: "MPN-123", Manufacturer: "Acme"},
		StartedAt:   time.Now().UTC().Add(-time.Minute),
	}

	require.NoError(t, store.Checkpoint(ctx, exec))
	assert.False(t, exec.UpdatedAt.IsZero(), "checkpoint stamps UpdatedAt")

	got, err := store.Get(ctx, "MPN-123")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, StepSupplierQuery, got.Step)
	assert.Equal(t, 2, got.Attempt)
	require.NotNil(t, got.Record)
	assert.Equal(t, "Acme", got.Record.Manufacturer)

	// Checkpoints expire with the retention window
	ttl := mr.TTL(ExecKey("MPN-123"))
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.Get(context.Background(), "MPN-404")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestStore_Delete(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Checkpoint(ctx, &Execution{BusinessKey: "MPN-123", Step: StepPending}))
	require.NoError(t, store.Delete(ctx, "MPN-123"))
	assert.False(t, mr.Exists(ExecKey("MPN-123")))
}

func TestStore_ListNonTerminal(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Checkpoint(ctx, &Execution{BusinessKey: "MPN-1", Step: StepScore}))
	require.NoError(t, store.Checkpoint(ctx, &Execution{BusinessKey: "MPN-2", Step: StepComplete}))
	require.NoError(t, store.Checkpoint(ctx, &Execution{BusinessKey: "MPN-3", Step: StepFailed}))
	require.NoError(t, store.Checkpoint(ctx, &Execution{BusinessKey: "MPN-4", Step: StepPersist}))

	executions, err := store.ListNonTerminal(ctx)
	require.NoError(t, err)

	keys := make([]string, 0, len(executions))
	for _, exec := range executions {
		keys = append(keys, exec.BusinessKey)
	}
	assert.ElementsMatch(t, []string{"MPN-1", "MPN-4"}, keys)
}

func TestStore_ListNonTerminalEmpty(t *testing.T) {
	store, _ := setupStore(t)

	executions, err := store.ListNonTerminal(context.Background())
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestStepTerminal(t *testing.T) {
	assert.True(t, StepComplete.Terminal())
	assert.True(t, StepFailed.Terminal())
	assert.False(t, StepPending.Terminal())
	assert.False(t, StepPersist.Terminal())
}
