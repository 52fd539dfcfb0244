package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
	"github.com/phrazzld/shotstudio/internal/store"
)

// GenerationStore persists finalized generations and their outputs.
type GenerationStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewGenerationStore creates a GenerationStore. A nil logger selects the
// slog default.
func NewGenerationStore(db store.DBTX, logger *slog.Logger) *GenerationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationStore{
		db:     db,
		logger: logger.With("component", "generation_store"),
	}
}

var _ store.GenerationRecordStore = (*GenerationStore)(nil)

// WithTx implements store.GenerationRecordStore.
func (s *GenerationStore) WithTx(tx store.DBTX) store.GenerationRecordStore {
	return &GenerationStore{db: tx, logger: s.logger}
}

// Persist implements store.GenerationRecordStore. When the store is bound
// to a *sql.DB the record and its outputs are written in one transaction; a
// store bound to a transaction writes into it.
func (s *GenerationStore) Persist(ctx context.Context, record *domain.GenerationRecord) error {
	if record == nil || record.TaskID == "" {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrEmptyTaskID)
	}
	if len(record.Outputs) == 0 {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrEmptyOutputs)
	}

	if db, ok := s.db.(*sql.DB); ok {
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			return (&GenerationStore{db: tx, logger: s.logger}).persist(ctx, record)
		})
	}
	return s.persist(ctx, record)
}

func (s *GenerationStore) persist(ctx context.Context, record *domain.GenerationRecord) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	params, err := json.Marshal(record.Params)
	if err != nil {
		return fmt.Errorf("%w: params: %v", store.ErrInvalidEntity, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generation_records (id, task_id, task_type, input_image_url, params, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		record.ID,
		record.TaskID,
		string(record.TaskType),
		record.InputImageURL,
		params,
		record.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.WarnContext(ctx, "generation record already exists", "task_id", record.TaskID)
			return fmt.Errorf("%w: task %s", store.ErrRecordExists, record.TaskID)
		}
		log.ErrorContext(ctx, "failed to insert generation record",
			"task_id", record.TaskID,
			"error", err)
		return store.NewStoreError("generation_record", "insert", "insert failed", MapError(err))
	}

	for i, out := range record.Outputs {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO generation_outputs (record_id, position, url, model_variant, gen_mode)
			VALUES ($1, $2, $3, $4, $5)
		`, record.ID, i, out.URL, out.ModelVariant, out.GenMode)
		if err != nil {
			log.ErrorContext(ctx, "failed to insert generation output",
				"task_id", record.TaskID,
				"position", i,
				"error", err)
			return store.NewStoreError("generation_output", "insert", "insert failed", MapError(err))
		}
	}

	log.InfoContext(ctx, "generation record persisted",
		"record_id", record.ID.String(),
		"task_id", record.TaskID,
		"outputs", len(record.Outputs))
	return nil
}

// LookupByTaskID implements store.GenerationRecordStore.
func (s *GenerationStore) LookupByTaskID(ctx context.Context, taskID string) (*domain.GenerationRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var (
		record   domain.GenerationRecord
		taskType string
		params   []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_type, input_image_url, params, created_at
		FROM generation_records
		WHERE task_id = $1
	`, taskID).Scan(&record.ID, &taskType, &record.InputImageURL, &params, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.DebugContext(ctx, "generation record not found", "task_id", taskID)
			return nil, store.ErrGenerationRecordNotFound
		}
		log.ErrorContext(ctx, "failed to look up generation record", "task_id", taskID, "error", err)
		return nil, store.NewStoreError("generation_record", "lookup", "query failed", MapError(err))
	}
	record.TaskID = taskID
	record.TaskType = domain.TaskType(taskType)

	if len(params) > 0 {
		if err := json.Unmarshal(params, &record.Params); err != nil {
			return nil, store.NewStoreError("generation_record", "lookup", "invalid params", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT url, model_variant, gen_mode
		FROM generation_outputs
		WHERE record_id = $1
		ORDER BY position
	`, record.ID)
	if err != nil {
		return nil, store.NewStoreError("generation_output", "lookup", "query failed", MapError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WarnContext(ctx, "failed to close rows", "error", cerr)
		}
	}()

	for rows.Next() {
		var out domain.RecordOutput
		if err := rows.Scan(&out.URL, &out.ModelVariant, &out.GenMode); err != nil {
			return nil, store.NewStoreError("generation_output", "lookup", "scan failed", err)
		}
		record.Outputs = append(record.Outputs, out)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("generation_output", "lookup", "row iteration failed", err)
	}

	return &record, nil
}
