package shared

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionID(t *testing.T) {
	t.Parallel()

	_, ok := SessionID(context.Background())
	assert.False(t, ok)

	_, ok = SessionID(WithSessionID(context.Background(), ""))
	assert.False(t, ok, "empty session IDs are not sessions")

	id, ok := SessionID(WithSessionID(context.Background(), "s1"))
	assert.True(t, ok)
	assert.Equal(t, "s1", id)
}

func TestTraceID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	traced := SetTraceID(ctx)
	id := GetTraceID(traced)
	assert.Len(t, id, 2*TraceIDLength)
	_, err := hex.DecodeString(id)
	assert.NoError(t, err)

	assert.Empty(t, GetTraceID(ctx), "parent context is unchanged")
	assert.Empty(t, GetTraceID(context.WithValue(ctx, TraceIDKey, 42)))
}

func TestTraceIDsAreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		id := generateTraceID()
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestFallbackTraceID(t *testing.T) {
	t.Parallel()

	id := fallbackTraceID()
	assert.Len(t, id, 2*TraceIDLength)
	_, err := hex.DecodeString(id)
	assert.NoError(t, err)
}
