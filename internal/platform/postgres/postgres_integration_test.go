//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/platform/postgres"
	"github.com/phrazzld/shotstudio/internal/quota"
	"github.com/phrazzld/shotstudio/internal/store"
	"github.com/phrazzld/shotstudio/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerationStoreIntegration(t *testing.T) {
	t.Parallel()
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		records := postgres.NewGenerationStore(db, quietLogger()).WithTx(tx)

		taskID := uuid.NewString()
		record := &domain.GenerationRecord{
			TaskID:   taskID,
			TaskType: domain.TaskTypeLifestyle,
			Params:   domain.Params{"scene": "kitchen"},
			Outputs: []domain.RecordOutput{
				{URL: "https://img.example.com/a.png", ModelVariant: domain.ModelVariantPrimary},
				{URL: "https://img.example.com/b.png", GenMode: domain.GenModeExtended},
			},
		}
		require.NoError(t, records.Persist(ctx, record))

		got, err := records.LookupByTaskID(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, record.ID, got.ID)
		require.Len(t, got.Outputs, 2)
		assert.Equal(t, "https://img.example.com/b.png", got.Outputs[1].URL)
		assert.Equal(t, "kitchen", got.Params.String("scene"))

		_, err = records.LookupByTaskID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrGenerationRecordNotFound)

		// a unique violation aborts the transaction, so this runs last
		err = records.Persist(ctx, &domain.GenerationRecord{
			TaskID:   taskID,
			TaskType: domain.TaskTypeLifestyle,
			Outputs:  []domain.RecordOutput{{URL: "https://img.example.com/c.png"}},
		})
		assert.ErrorIs(t, err, store.ErrRecordExists)
	})
}

func TestQuotaLedgerIntegration(t *testing.T) {
	t.Parallel()
	db := testdb.GetTestDBWithT(t)
	ctx := context.Background()

	// the ledger runs its own transactions, so each test owns an account
	ledger := postgres.NewQuotaLedger(db, "it-"+uuid.NewString(), quietLogger())
	require.NoError(t, ledger.EnsureAccount(ctx, 6))

	full, partial := uuid.NewString(), uuid.NewString()
	require.NoError(t, ledger.Reserve(ctx, full, 4, domain.TaskTypeStudio))
	assert.ErrorIs(t, ledger.Reserve(ctx, partial, 3, domain.TaskTypeStudio), quota.ErrInsufficientQuota)
	require.NoError(t, ledger.Reserve(ctx, partial, 2, domain.TaskTypeStudio))

	returned, err := ledger.Release(ctx, partial, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, returned)

	returned, err = ledger.Cancel(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, 4, returned)

	again, err := ledger.Cancel(ctx, full)
	require.NoError(t, err)
	assert.Zero(t, again)

	bal, err := ledger.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, bal.Limit)
	assert.Equal(t, 1, bal.Used)
	assert.Equal(t, 5, bal.Remaining)
}
