package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/shotstudio/internal/recovery"
	"github.com/redis/go-redis/v9"
)

// DefaultHintTTL bounds how long an abandoned session keeps its hint.
const DefaultHintTTL = 24 * time.Hour

// maxHintTxAttempts bounds the retries of a conditional update that keeps
// losing its WATCH to concurrent writers.
const maxHintTxAttempts = 5

// ErrHintContended is returned when a conditional update could not commit
// within maxHintTxAttempts.
var ErrHintContended = errors.New("recovery hint changed concurrently")

func hintKey(session string) string { return "shotstudio:hint:" + session }

// HintStore keeps recovery hints as JSON values with a TTL.
type HintStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewHintStore creates a HintStore. A non-positive ttl selects DefaultHintTTL.
func NewHintStore(client *redis.Client, ttl time.Duration) *HintStore {
	if ttl <= 0 {
		ttl = DefaultHintTTL
	}
	return &HintStore{client: client, ttl: ttl}
}

// Get implements recovery.HintStore.
func (s *HintStore) Get(ctx context.Context, session string) (recovery.Hint, bool, error) {
	data, err := s.client.Get(ctx, hintKey(session)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return recovery.Hint{}, false, nil
		}
		return recovery.Hint{}, false, fmt.Errorf("redis get hint for %s: %w", session, err)
	}

	var hint recovery.Hint
	if err := json.Unmarshal(data, &hint); err != nil {
		return recovery.Hint{}, false, fmt.Errorf("unmarshal hint: %w", err)
	}
	return hint, true, nil
}

// Set implements recovery.HintStore.
func (s *HintStore) Set(ctx context.Context, session string, hint recovery.Hint) error {
	data, err := json.Marshal(hint)
	if err != nil {
		return fmt.Errorf("marshal hint: %w", err)
	}
	if err := s.client.Set(ctx, hintKey(session), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set hint for %s: %w", session, err)
	}
	return nil
}

// Clear implements recovery.HintStore.
func (s *HintStore) Clear(ctx context.Context, session string) error {
	if err := s.client.Del(ctx, hintKey(session)).Err(); err != nil {
		return fmt.Errorf("redis clear hint for %s: %w", session, err)
	}
	return nil
}

// AdvanceIf implements recovery.HintStore. The read and the write run under
// WATCH so a hint replaced by a newer task in between is not overwritten.
func (s *HintStore) AdvanceIf(ctx context.Context, session, taskID string, mode recovery.Mode) error {
	return s.updateIf(ctx, session, taskID, func(tx *redis.Tx, key string, hint recovery.Hint) error {
		if hint.Mode == mode {
			return nil
		}
		hint.Mode = mode
		data, err := json.Marshal(hint)
		if err != nil {
			return fmt.Errorf("marshal hint: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	})
}

// ClearIf implements recovery.HintStore.
func (s *HintStore) ClearIf(ctx context.Context, session, taskID string) error {
	return s.updateIf(ctx, session, taskID, func(tx *redis.Tx, key string, _ recovery.Hint) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	})
}

// updateIf watches the hint of session and calls apply only when it points at
// taskID. A transaction aborted by a concurrent write is retried.
func (s *HintStore) updateIf(
	ctx context.Context,
	session, taskID string,
	apply func(tx *redis.Tx, key string, hint recovery.Hint) error,
) error {
	key := hintKey(session)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var hint recovery.Hint
		if err := json.Unmarshal(data, &hint); err != nil {
			return fmt.Errorf("unmarshal hint: %w", err)
		}
		if hint.TaskID != taskID {
			return nil
		}
		return apply(tx, key, hint)
	}

	for attempt := 0; attempt < maxHintTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("redis update hint for %s: %w", session, err)
		}
	}
	return fmt.Errorf("redis update hint for %s: %w", session, ErrHintContended)
}

var _ recovery.HintStore = (*HintStore)(nil)
