// Package multi mirrors occurrences to several sinks at once.
package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/strongdm/squash-go/pkg/squash"
)

// Sink mirrors every occurrence to each of its sinks, in order. A failing
// sink does not stop the ones after it; errors name the sink's position.
type Sink struct {
	sinks []squash.Sink
}

// New returns a Sink over sinks. Nil entries are dropped and nested
// Sinks are flattened, so positions in errors refer to leaf sinks.
func New(sinks ...squash.Sink) *Sink {
	s := &Sink{}
	for _, sink := range sinks {
		switch v := sink.(type) {
		case nil:
		case *Sink:
			if v != nil {
				s.sinks = append(s.sinks, v.sinks...)
			}
		default:
			s.sinks = append(s.sinks, sink)
		}
	}
	return s
}

// Len returns how many sinks occurrences are mirrored to.
func (s *Sink) Len() int { return len(s.sinks) }

func (s *Sink) Write(ctx context.Context, o squash.Occurrence) error {
	return s.each("write", func(sink squash.Sink) error { return sink.Write(ctx, o) })
}

func (s *Sink) Flush(ctx context.Context) error {
	return s.each("flush", func(sink squash.Sink) error { return sink.Flush(ctx) })
}

// Close closes every sink, including after earlier ones fail.
func (s *Sink) Close() error {
	return s.each("close", squash.Sink.Close)
}

func (s *Sink) each(op string, fn func(squash.Sink) error) error {
	var errs []error
	for i, sink := range s.sinks {
		if err := fn(sink); err != nil {
			errs = append(errs, fmt.Errorf("%s sink %d: %w", op, i, err))
		}
	}
	return errors.Join(errs...)
}
