package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultJoinTimeout bounds how long Close waits for the producer.
const DefaultJoinTimeout = 200 * time.Millisecond

// Stream consumes one ChatStream call. Delivery after Close is at most once:
// the producer's in-flight request is abandoned, not interrupted, and its
// remaining output is dropped.
type Stream struct {
	client      Client
	msgs        []Message
	opts        ChatOptions
	ch          <-chan string
	cancel      context.CancelFunc
	joinTimeout time.Duration
	closeOnce   sync.Once
}

// NewStream starts streaming msgs from c.
func NewStream(ctx context.Context, c Client, msgs []Message, opts ChatOptions, joinTimeout time.Duration) *Stream {
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		client:      c,
		msgs:        msgs,
		opts:        opts,
		ch:          c.ChatStream(ctx, msgs, opts),
		cancel:      cancel,
		joinTimeout: joinTimeout,
	}
}

// Next returns the next delta, or false once the stream has ended.
func (s *Stream) Next() (string, bool) {
	d, ok := <-s.ch
	return d, ok
}

// Close stops consuming and waits up to the join timeout for the producer to
// finish. It reports whether the producer finished in time.
func (s *Stream) Close() bool {
	joined := true
	s.closeOnce.Do(func() {
		s.cancel()
		timer := time.NewTimer(s.joinTimeout)
		defer timer.Stop()
		for {
			select {
			case _, ok := <-s.ch:
				if !ok {
					return
				}
			case <-timer.C:
				joined = false
				return
			}
		}
	})
	return joined
}

// Collect reads the whole stream, passing each delta to onDelta when set.
// An empty stream falls back to a blocking Chat call.
func (s *Stream) Collect(ctx context.Context, onDelta func(string)) string {
	defer s.Close()
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String()
		case d, ok := <-s.ch:
			if !ok {
				if strings.TrimSpace(b.String()) == "" {
					text := s.client.Chat(ctx, s.msgs, s.opts)
					if onDelta != nil {
						onDelta(text)
					}
					return text
				}
				return b.String()
			}
			if d == "" {
				continue
			}
			b.WriteString(d)
			if onDelta != nil {
				onDelta(d)
			}
		}
	}
}
