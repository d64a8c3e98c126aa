// sink.go defines the Sink and Observer extension points.

package squash

import "context"

// Sink receives each occurrence after it has been persisted to the store.
// Sinks are mirrors (stderr, cxdb, ...); the store stays the source of
// truth for delivery. Implementations must be safe for concurrent use.
//
// Sinks are not called for signal occurrences, which are persisted with
// the minimum of work before the signal is re-raised.
type Sink interface {
	// Write mirrors an occurrence.
	Write(ctx context.Context, o Occurrence) error

	// Flush ensures any buffered occurrences are written.
	Flush(ctx context.Context) error

	// Close releases resources held by the sink.
	Close() error
}

// Observer receives capture and delivery events, typically for metrics.
type Observer interface {
	ObserveCapture(o Occurrence)
	ObserveDelivery(r DeliveryResult)
	ObserveQueueDepth(n int)
}

type noopObserver struct{}

func (noopObserver) ObserveCapture(Occurrence)      {}
func (noopObserver) ObserveDelivery(DeliveryResult) {}
func (noopObserver) ObserveQueueDepth(int)          {}

// noopSinkInternal is an internal noop sink to avoid import cycles.
type noopSinkInternal struct{}

func (noopSinkInternal) Write(context.Context, Occurrence) error { return nil }
func (noopSinkInternal) Flush(context.Context) error             { return nil }
func (noopSinkInternal) Close() error                            { return nil }
