package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrMalformedEvent is returned for a data line that is not a valid event.
var ErrMalformedEvent = errors.New("malformed stream event")

const sseDone = "[DONE]"

type sseItem struct {
	event Event
	err   error
}

// SSEStream decodes server-sent events from a response body. Each data line
// carries one JSON Event and the stream is terminated by "data: [DONE]".
// A body that ends without the terminator is reported as
// io.ErrUnexpectedEOF, not io.EOF.
type SSEStream struct {
	body  io.ReadCloser
	items chan sseItem
	stop  chan struct{}
	once  sync.Once
}

// NewSSEStream starts decoding body in the background.
func NewSSEStream(body io.ReadCloser) *SSEStream {
	s := &SSEStream{
		body:  body,
		items: make(chan sseItem, 16),
		stop:  make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *SSEStream) read() {
	defer close(s.items)

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == sseDone {
			return
		}

		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.send(sseItem{err: fmt.Errorf("%w: %v", ErrMalformedEvent, err)})
			return
		}
		if !s.send(sseItem{event: ev}) {
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	s.send(sseItem{err: err})
}

func (s *SSEStream) send(item sseItem) bool {
	select {
	case s.items <- item:
		return true
	case <-s.stop:
		return false
	}
}

// Next returns the next event, io.EOF after the terminator, or the error
// that ended the stream.
func (s *SSEStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case item, ok := <-s.items:
		if !ok {
			return Event{}, io.EOF
		}
		return item.event, item.err
	}
}

// Close releases the body and stops the decoder. It is safe to call more
// than once.
func (s *SSEStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.body.Close()
	})
	return err
}

var _ EventStream = (*SSEStream)(nil)
