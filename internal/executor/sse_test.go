package executor

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func body(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func TestSSEStreamDecodesEvents(t *testing.T) {
	t.Parallel()

	stream := NewSSEStream(body(
		": keep-alive\n\n" +
			"event: update\n" +
			`data: {"type":"progress","index":0}` + "\n\n" +
			`data: {"type":"image","index":0,"image_url":"a.png","model_variant":"fallback"}` + "\n\n" +
			"data: [DONE]\n\n"))
	defer stream.Close()

	ctx := context.Background()
	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventProgress, ev.Type)

	ev, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventImage, ev.Type)
	assert.Equal(t, "a.png", ev.ImageURL)
	assert.Equal(t, "fallback", ev.ModelVariant)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEStreamWithoutTerminatorIsUnexpected(t *testing.T) {
	t.Parallel()

	stream := NewSSEStream(body(`data: {"type":"image","index":0,"image_url":"a.png"}` + "\n"))
	defer stream.Close()

	_, err := stream.Next(context.Background())
	require.NoError(t, err)

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSSEStreamMalformedEvent(t *testing.T) {
	t.Parallel()

	stream := NewSSEStream(body("data: {not json}\n"))
	defer stream.Close()

	_, err := stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestSSEStreamHonoursContextAndClose(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()
	stream := NewSSEStream(pr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := stream.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}
