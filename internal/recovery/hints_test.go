package recovery

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHintStoreConditionalUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryHintStore()

	require.NoError(t, s.Set(ctx, "s1", Hint{TaskID: "new", Mode: ModeProcessing}))
	require.NoError(t, s.AdvanceIf(ctx, "s1", "old", ModeResults))
	require.NoError(t, s.ClearIf(ctx, "s1", "old"))

	hint, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Hint{TaskID: "new", Mode: ModeProcessing}, hint)

	require.NoError(t, s.AdvanceIf(ctx, "s1", "new", ModeResults))
	hint, _, _ = s.Get(ctx, "s1")
	assert.Equal(t, ModeResults, hint.Mode)

	require.NoError(t, s.ClearIf(ctx, "s1", "new"))
	_, ok, _ = s.Get(ctx, "s1")
	assert.False(t, ok)
}

// A stale ClearIf racing a newer Track must never remove the newer hint.
func TestMemoryHintStoreClearIfRacesNewerTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryHintStore()

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Set(ctx, "s1", Hint{TaskID: "old", Mode: ModeProcessing}))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.ClearIf(ctx, "s1", "old")
		}()
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, "s1", Hint{TaskID: "new", Mode: ModeProcessing})
		}()
		wg.Wait()

		// either order leaves the newer hint, never an empty session
		hint, ok, _ := s.Get(ctx, "s1")
		require.True(t, ok)
		require.Equal(t, "new", hint.TaskID)
	}
}
