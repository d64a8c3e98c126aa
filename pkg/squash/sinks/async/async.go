// Package async provides a sink wrapper with a bounded queue, so that a
// slow mirror never delays the code path that recorded an occurrence.
// When the queue is full the oldest occurrence is dropped.
package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strongdm/squash-go/pkg/squash"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("async sink is closed")

// AsyncSinkOption configures the async sink.
type AsyncSinkOption func(*asyncSinkConfig)

type asyncSinkConfig struct {
	queueSize     int
	flushInterval time.Duration
	onDropped     func(count int)
	onError       func(err error)
}

// WithQueueSize sets the maximum number of queued occurrences (default: 256).
func WithQueueSize(size int) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithFlushInterval sets how often Flush polls the queue (default: 10ms).
func WithFlushInterval(d time.Duration) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithOnDropped sets a callback invoked when occurrences are dropped due to
// queue overflow.
func WithOnDropped(fn func(count int)) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		c.onDropped = fn
	}
}

// WithOnError sets a callback for errors returned by the inner sink.
func WithOnError(fn func(err error)) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		c.onError = fn
	}
}

type asyncSink struct {
	inner         squash.Sink
	queue         chan squash.Occurrence
	done          chan struct{}
	flushInterval time.Duration
	onDropped     func(count int)
	onError       func(err error)

	// pending counts queued plus in-flight occurrences.
	pending atomic.Int64

	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

// NewAsyncSink wraps inner with a bounded queue. Write returns immediately;
// occurrences are written to inner on a background goroutine.
func NewAsyncSink(inner squash.Sink, opts ...AsyncSinkOption) squash.Sink {
	cfg := &asyncSinkConfig{
		queueSize:     256,
		flushInterval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &asyncSink{
		inner:         inner,
		queue:         make(chan squash.Occurrence, cfg.queueSize),
		done:          make(chan struct{}),
		flushInterval: cfg.flushInterval,
		onDropped:     cfg.onDropped,
		onError:       cfg.onError,
	}

	s.wg.Add(1)
	go s.processLoop()

	return s
}

func (s *asyncSink) processLoop() {
	defer s.wg.Done()
	for {
		select {
		case o := <-s.queue:
			s.write(o)
		case <-s.done:
			for {
				select {
				case o := <-s.queue:
					s.write(o)
				default:
					return
				}
			}
		}
	}
}

func (s *asyncSink) write(o squash.Occurrence) {
	defer s.pending.Add(-1)
	if err := s.inner.Write(context.Background(), o); err != nil && s.onError != nil {
		s.onError(err)
	}
}

// Write enqueues an occurrence. If the queue is full, the oldest queued
// occurrence is dropped.
func (s *asyncSink) Write(ctx context.Context, o squash.Occurrence) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	s.pending.Add(1)
	select {
	case s.queue <- o:
		return nil
	default:
		s.dropOldestAndEnqueue(o)
		return nil
	}
}

func (s *asyncSink) dropOldestAndEnqueue(o squash.Occurrence) {
	select {
	case <-s.queue:
		s.dropped()
	default:
	}

	select {
	case s.queue <- o:
	default:
		s.dropped()
	}
}

func (s *asyncSink) dropped() {
	s.pending.Add(-1)
	if s.onDropped != nil {
		s.onDropped(1)
	}
}

// Flush blocks until every queued occurrence has been written, then
// flushes inner.
func (s *asyncSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return s.inner.Flush(ctx)
}

// Close writes what is queued, stops the worker and closes inner.
func (s *asyncSink) Close() error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		close(s.done)
		s.wg.Wait()
	})

	return s.inner.Close()
}
