package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/registry"
	"github.com/phrazzld/shotstudio/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockRecordLookup counts lookups and returns a configured record.
type MockRecordLookup struct {
	LookupFn func(ctx context.Context, taskID string) (*domain.GenerationRecord, error)
	Calls    int
}

func (m *MockRecordLookup) LookupByTaskID(ctx context.Context, taskID string) (*domain.GenerationRecord, error) {
	m.Calls++
	return m.LookupFn(ctx, taskID)
}

func notFound() *MockRecordLookup {
	return &MockRecordLookup{LookupFn: func(context.Context, string) (*domain.GenerationRecord, error) {
		return nil, store.ErrGenerationRecordNotFound
	}}
}

type fixture struct {
	hints   *MemoryHintStore
	reg     *registry.Registry
	records *MockRecordLookup
	ctrl    *Controller
}

func newFixture(records *MockRecordLookup) *fixture {
	f := &fixture{
		hints:   NewMemoryHintStore(),
		reg:     registry.New(testLogger()),
		records: records,
	}
	f.ctrl = NewController(f.hints, f.reg, records, testLogger())
	return f
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeIdle, false},
		{"idle", ModeIdle, false},
		{"processing", ModeProcessing, false},
		{" Results ", ModeResults, false},
		{"camera", ModeIdle, true},
	}
	for _, tc := range tests {
		got, err := ParseMode(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidMode, tc.in)
		} else {
			assert.NoError(t, err, tc.in)
		}
	}
}

func TestResumeWithoutHint(t *testing.T) {
	t.Parallel()

	f := newFixture(notFound())
	d, err := f.ctrl.Resume(context.Background(), "s1", ModeProcessing)

	require.NoError(t, err)
	assert.Equal(t, ModeIdle, d.Mode)
	assert.Zero(t, f.records.Calls)
}

func TestResumeRehydratesFromRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	records := &MockRecordLookup{LookupFn: func(_ context.Context, taskID string) (*domain.GenerationRecord, error) {
		return &domain.GenerationRecord{
			TaskID:   taskID,
			TaskType: domain.TaskTypeProduct,
			Outputs:  []domain.RecordOutput{{URL: "a.png"}, {URL: "b.png"}, {URL: "c.png"}},
		}, nil
	}}
	f := newFixture(records)
	require.NoError(t, f.ctrl.Track(ctx, "s1", "t1", ModeProcessing))

	d, err := f.ctrl.Resume(ctx, "s1", ModeProcessing)
	require.NoError(t, err)

	assert.Equal(t, ModeResults, d.Mode)
	assert.True(t, d.Rehydrated)
	require.NotNil(t, d.Task)
	assert.Len(t, d.Task.Slots, 3)
	assert.Equal(t, 3, d.Task.SuccessCount())
	assert.Equal(t, 1, records.Calls)

	live, ok := f.reg.Get("t1")
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCompleted, live.Status)

	hint, ok, _ := f.hints.Get(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, ModeResults, hint.Mode)

	// second check is served from the registry
	_, err = f.ctrl.Resume(ctx, "s1", ModeResults)
	require.NoError(t, err)
	assert.Equal(t, 1, records.Calls)
}

func TestResumeClearsHintWhenNothingToRecover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name   string
		lookup func(context.Context, string) (*domain.GenerationRecord, error)
	}{
		{"record not found", func(context.Context, string) (*domain.GenerationRecord, error) {
			return nil, store.ErrGenerationRecordNotFound
		}},
		{"record without outputs", func(_ context.Context, id string) (*domain.GenerationRecord, error) {
			return &domain.GenerationRecord{TaskID: id}, nil
		}},
		{"datastore error", func(context.Context, string) (*domain.GenerationRecord, error) {
			return nil, errors.New("connection refused")
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(&MockRecordLookup{LookupFn: tc.lookup})
			require.NoError(t, f.ctrl.Track(ctx, "s1", "t1", ModeProcessing))

			d, err := f.ctrl.Resume(ctx, "s1", ModeProcessing)
			require.NoError(t, err)
			assert.Equal(t, ModeIdle, d.Mode)
			assert.Nil(t, d.Task)

			_, ok, _ := f.hints.Get(ctx, "s1")
			assert.False(t, ok)
			assert.Zero(t, f.reg.Len())
		})
	}
}

func TestResumeLiveTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("still processing", func(t *testing.T) {
		f := newFixture(notFound())
		id := f.reg.CreateTask(domain.TaskTypeOutfit, "", nil, 2)
		require.NoError(t, f.ctrl.Track(ctx, "s1", id, ModeProcessing))

		d, err := f.ctrl.Resume(ctx, "s1", ModeResults)
		require.NoError(t, err)
		assert.Equal(t, ModeProcessing, d.Mode)
		assert.False(t, d.Rehydrated)
		assert.Zero(t, f.records.Calls)
	})

	t.Run("failed task returns to idle", func(t *testing.T) {
		f := newFixture(notFound())
		id := f.reg.CreateTask(domain.TaskTypeOutfit, "", nil, 1)
		f.reg.UpdateTaskStatus(id, domain.TaskStatusFailed, nil, "all slots failed")
		require.NoError(t, f.ctrl.Track(ctx, "s1", id, ModeProcessing))

		d, err := f.ctrl.Resume(ctx, "s1", ModeProcessing)
		require.NoError(t, err)
		assert.Equal(t, ModeIdle, d.Mode)
		_, ok, _ := f.hints.Get(ctx, "s1")
		assert.False(t, ok)
	})
}

func TestPollTransitionsWhenTaskFinishes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(notFound())
	id := f.reg.CreateTask(domain.TaskTypeGroup, "", nil, 1)
	require.NoError(t, f.ctrl.Track(ctx, "s1", id, ModeProcessing))

	d, err := f.ctrl.Poll(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ModeProcessing, d.Mode)

	f.reg.UpdateSlot(id, 0, domain.SlotUpdate{Status: domain.SlotStatusCompleted, ImageURL: "x.png"})
	f.reg.UpdateTaskStatus(id, domain.TaskStatusCompleted, []string{"x.png"}, "")

	d, err = f.ctrl.Poll(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ModeResults, d.Mode)
	hint, _, _ := f.hints.Get(ctx, "s1")
	assert.Equal(t, ModeResults, hint.Mode)
	assert.Zero(t, f.records.Calls)
}

func TestPollDoesNotReachDatastore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(notFound())
	require.NoError(t, f.ctrl.Track(ctx, "s1", "gone", ModeProcessing))

	d, err := f.ctrl.Poll(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ModeProcessing, d.Mode)
	assert.Equal(t, "gone", d.TaskID)
	assert.Zero(t, f.records.Calls)
}

type failingHints struct{}

func (failingHints) Get(context.Context, string) (Hint, bool, error) {
	return Hint{}, false, errors.New("redis down")
}

func (failingHints) Set(context.Context, string, Hint) error { return nil }

func (failingHints) Clear(context.Context, string) error { return nil }

func (failingHints) AdvanceIf(context.Context, string, string, Mode) error { return nil }

func (failingHints) ClearIf(context.Context, string, string) error { return nil }

func TestResumeHintStoreFailure(t *testing.T) {
	t.Parallel()

	ctrl := NewController(failingHints{}, registry.New(testLogger()), notFound(), testLogger())
	d, err := ctrl.Resume(context.Background(), "s1", ModeProcessing)

	assert.Error(t, err)
	assert.Equal(t, ModeIdle, d.Mode)
}

func TestAdvanceAndForgetTaskOnlyTouchCurrentTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(notFound())
	require.NoError(t, f.ctrl.Track(ctx, "s1", "new", ModeProcessing))

	require.NoError(t, f.ctrl.Advance(ctx, "s1", "old", ModeResults))
	require.NoError(t, f.ctrl.ForgetTask(ctx, "s1", "old"))
	hint, ok, _ := f.hints.Get(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, "new", hint.TaskID)
	assert.Equal(t, ModeProcessing, hint.Mode)

	require.NoError(t, f.ctrl.Advance(ctx, "s1", "new", ModeResults))
	hint, _, _ = f.hints.Get(ctx, "s1")
	assert.Equal(t, ModeResults, hint.Mode)

	require.NoError(t, f.ctrl.ForgetTask(ctx, "s1", "new"))
	_, ok, _ = f.hints.Get(ctx, "s1")
	assert.False(t, ok)

	assert.NoError(t, f.ctrl.Advance(ctx, "nobody", "new", ModeResults))
}
