package noop

import (
	"context"
	"testing"

	"github.com/strongdm/squash-go/pkg/squash"
)

func TestNoopSink_ImplementsSinkInterface(t *testing.T) {
	var _ squash.Sink = NewNoopSink()
}

func TestNoopSink_AllMethodsSucceed(t *testing.T) {
	sink := NewNoopSink()
	ctx := context.Background()

	if err := sink.Write(ctx, squash.Occurrence{ID: "x"}); err != nil {
		t.Errorf("Write: %v", err)
	}
	if err := sink.Flush(ctx); err != nil {
		t.Errorf("Flush: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	// Usable after Close.
	if err := sink.Write(ctx, squash.Occurrence{ID: "y"}); err != nil {
		t.Errorf("Write after Close: %v", err)
	}
}
