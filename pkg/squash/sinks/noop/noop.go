// Package noop provides a sink that discards all occurrences.
package noop

import (
	"context"

	"github.com/strongdm/squash-go/pkg/squash"
)

type noopSink struct{}

// NewNoopSink creates a sink that discards all occurrences.
func NewNoopSink() squash.Sink {
	return noopSink{}
}

func (noopSink) Write(context.Context, squash.Occurrence) error { return nil }
func (noopSink) Flush(context.Context) error                    { return nil }
func (noopSink) Close() error                                   { return nil }
