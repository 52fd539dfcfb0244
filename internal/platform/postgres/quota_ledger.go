package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
	"github.com/phrazzld/shotstudio/internal/quota"
	"github.com/phrazzld/shotstudio/internal/store"
)

// QuotaLedger is a quota.Ledger over the quota_accounts and
// quota_reservations tables. One account row holds the daily limit and the
// units used since the last reset; one reservation row exists per task.
type QuotaLedger struct {
	db      *sql.DB
	account string
	now     func() time.Time
	logger  *slog.Logger
}

// NewQuotaLedger creates a ledger charging account.
func NewQuotaLedger(db *sql.DB, account string, logger *slog.Logger) *QuotaLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaLedger{
		db:      db,
		account: account,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With("component", "quota_ledger", "account", account),
	}
}

var _ quota.Ledger = (*QuotaLedger)(nil)

// nextReset returns the first UTC midnight after t.
func nextReset(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// EnsureAccount creates the account row, or updates its limit if it exists.
func (l *QuotaLedger) EnsureAccount(ctx context.Context, dailyLimit int) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO quota_accounts (account, daily_limit, used, resets_at, updated_at)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (account) DO UPDATE SET daily_limit = EXCLUDED.daily_limit, updated_at = EXCLUDED.updated_at
	`, l.account, dailyLimit, nextReset(l.now()), l.now())
	if err != nil {
		return store.NewStoreError("quota_account", "upsert", "upsert failed", MapError(err))
	}
	return nil
}

type accountRow struct {
	limit    int
	used     int
	resetsAt time.Time
}

func (l *QuotaLedger) lockAccount(ctx context.Context, tx *sql.Tx) (accountRow, error) {
	var row accountRow
	err := tx.QueryRowContext(ctx, `
		SELECT daily_limit, used, resets_at
		FROM quota_accounts
		WHERE account = $1
		FOR UPDATE
	`, l.account).Scan(&row.limit, &row.used, &row.resetsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return row, store.ErrQuotaAccountNotFound
	}
	if err != nil {
		return row, MapError(err)
	}

	if now := l.now(); !now.Before(row.resetsAt) {
		row.used = 0
		row.resetsAt = nextReset(now)
	}
	return row, nil
}

func (l *QuotaLedger) saveAccount(ctx context.Context, tx *sql.Tx, row accountRow) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE quota_accounts
		SET used = $2, resets_at = $3, updated_at = $4
		WHERE account = $1
	`, l.account, row.used, row.resetsAt, l.now())
	return MapError(err)
}

// Reserve implements quota.Ledger.
func (l *QuotaLedger) Reserve(ctx context.Context, taskID string, units int, taskType domain.TaskType) error {
	if units <= 0 {
		return quota.ErrInvalidUnits
	}

	return store.RunInTransaction(ctx, l.db, func(ctx context.Context, tx *sql.Tx) error {
		row, err := l.lockAccount(ctx, tx)
		if err != nil {
			return err
		}
		if row.used+units > row.limit {
			return fmt.Errorf("%w: %d requested, %d remaining",
				quota.ErrInsufficientQuota, units, row.limit-row.used)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO quota_reservations (task_id, account, task_type, units, refunded, open, created_at, window_ends_at)
			VALUES ($1, $2, $3, $4, 0, TRUE, $5, $6)
		`, taskID, l.account, string(taskType), units, l.now(), row.resetsAt)
		if err != nil {
			if IsUniqueViolation(err) {
				return quota.ErrAlreadyReserved
			}
			return MapError(err)
		}

		row.used += units
		if err := l.saveAccount(ctx, tx, row); err != nil {
			return err
		}

		logger.FromContextOrDefault(ctx, l.logger).DebugContext(ctx, "quota reserved",
			"task_id", taskID,
			"units", units,
			"used", row.used)
		return nil
	})
}

// Cancel implements quota.Ledger.
func (l *QuotaLedger) Cancel(ctx context.Context, taskID string) (int, error) {
	return l.release(ctx, taskID, -1)
}

// Release implements quota.Ledger.
func (l *QuotaLedger) Release(ctx context.Context, taskID string, units int) (int, error) {
	if units <= 0 {
		return 0, nil
	}
	return l.release(ctx, taskID, units)
}

// release closes the reservation of taskID, returning units to the account.
// units < 0 returns everything still held. Units reserved in a window that
// has since reset are only recorded on the reservation; the reset already
// freed them, so today's usage is left alone.
func (l *QuotaLedger) release(ctx context.Context, taskID string, units int) (int, error) {
	var returned int
	err := store.RunInTransaction(ctx, l.db, func(ctx context.Context, tx *sql.Tx) error {
		var reserved, refunded int
		var open bool
		var window sql.NullTime
		err := tx.QueryRowContext(ctx, `
			SELECT units, refunded, open, window_ends_at
			FROM quota_reservations
			WHERE task_id = $1
			FOR UPDATE
		`, taskID).Scan(&reserved, &refunded, &open, &window)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !open) {
			return nil
		}
		if err != nil {
			return MapError(err)
		}

		held := reserved - refunded
		n := units
		if n < 0 || n > held {
			n = held
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE quota_reservations
			SET refunded = refunded + $2, open = FALSE, resolved_at = $3
			WHERE task_id = $1
		`, taskID, n, l.now())
		if err != nil {
			return MapError(err)
		}

		row, err := l.lockAccount(ctx, tx)
		if err != nil {
			return err
		}
		// rows written before window_ends_at existed carry NULL and are
		// treated as belonging to the current window
		if window.Valid && !window.Time.Equal(row.resetsAt) {
			logger.FromContextOrDefault(ctx, l.logger).DebugContext(ctx, "release after quota reset",
				"task_id", taskID,
				"units", n,
				"reserved_window", window.Time)
		} else {
			row.used -= n
			if row.used < 0 {
				row.used = 0
			}
		}
		if err := l.saveAccount(ctx, tx, row); err != nil {
			return err
		}
		returned = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return returned, nil
}

// Read implements quota.Ledger.
func (l *QuotaLedger) Read(ctx context.Context) (quota.Balance, error) {
	var row accountRow
	err := l.db.QueryRowContext(ctx, `
		SELECT daily_limit, used, resets_at
		FROM quota_accounts
		WHERE account = $1
	`, l.account).Scan(&row.limit, &row.used, &row.resetsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.Balance{}, store.ErrQuotaAccountNotFound
	}
	if err != nil {
		return quota.Balance{}, store.NewStoreError("quota_account", "read", "query failed", MapError(err))
	}

	if now := l.now(); !now.Before(row.resetsAt) {
		row.used = 0
		row.resetsAt = nextReset(now)
	}
	return quota.Balance{
		Limit:     row.limit,
		Used:      row.used,
		Remaining: row.limit - row.used,
		ResetsAt:  row.resetsAt,
	}, nil
}
