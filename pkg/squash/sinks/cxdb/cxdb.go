// Package cxdb provides a sink that mirrors occurrences into cxdb as
// SystemMessage error items.
package cxdb

import (
	"context"
	"fmt"
	"sync"

	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	cxdtypes "github.com/strongdm/ai-cxdb/clients/go/types"
	"github.com/strongdm/squash-go/pkg/squash"
)

// CXDBClient is the minimal interface for cxdb client operations.
// The real *cxdb.Client satisfies this interface.
type CXDBClient interface {
	CreateContext(ctx context.Context, baseTurnID uint64) (*cxdbclient.ContextHead, error)
	AppendTurn(ctx context.Context, req *cxdbclient.AppendRequest) (*cxdbclient.AppendResult, error)
}

// CXDBSinkOption configures the CXDB sink.
type CXDBSinkOption func(*cxdbSinkConfig)

type cxdbSinkConfig struct {
	contextID uint64
	labels    []string
	clientTag string
}

// WithContextID appends to an existing context instead of creating one.
func WithContextID(id uint64) CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.contextID = id
	}
}

// WithLabels sets the labels of the context the sink creates.
func WithLabels(labels []string) CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.labels = labels
	}
}

// WithClientTag sets the client tag of the context the sink creates.
func WithClientTag(tag string) CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.clientTag = tag
	}
}

// cxdbSink writes every occurrence of a process into one cxdb context,
// created on the first write unless WithContextID was given.
type cxdbSink struct {
	client    CXDBClient
	labels    []string
	clientTag string

	mu        sync.Mutex
	contextID uint64
}

// NewCXDBSink creates a sink that writes to cxdb.
func NewCXDBSink(client CXDBClient, opts ...CXDBSinkOption) squash.Sink {
	cfg := &cxdbSinkConfig{
		labels:    []string{"squash", "occurrence"},
		clientTag: "squash",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &cxdbSink{
		client:    client,
		labels:    cfg.labels,
		clientTag: cfg.clientTag,
		contextID: cfg.contextID,
	}
}

// Write appends the occurrence as a turn. The occurrence ID is the
// idempotency key, so a retried write never duplicates the turn.
func (s *cxdbSink) Write(ctx context.Context, o squash.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	first := false
	if s.contextID == 0 {
		head, err := s.client.CreateContext(ctx, 0)
		if err != nil {
			return fmt.Errorf("create context: %w", err)
		}
		s.contextID = head.ContextID
		first = true
	}

	item, err := s.buildConversationItem(o, first)
	if err != nil {
		return err
	}

	payload, err := cxdbclient.EncodeMsgpack(item)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req := &cxdbclient.AppendRequest{
		ContextID:      s.contextID,
		ParentTurnID:   0,
		TypeID:         cxdtypes.TypeIDConversationItem,
		TypeVersion:    cxdtypes.TypeVersionConversationItem,
		Payload:        payload,
		IdempotencyKey: o.ID,
	}
	if _, err := s.client.AppendTurn(ctx, req); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// buildConversationItem carries the occurrence's stored JSON form as the
// message content. first marks the first turn of a context the sink created.
func (s *cxdbSink) buildConversationItem(o squash.Occurrence, first bool) (*cxdtypes.ConversationItem, error) {
	content, err := squash.MarshalOccurrence(o)
	if err != nil {
		return nil, fmt.Errorf("encode occurrence: %w", err)
	}

	item := &cxdtypes.ConversationItem{
		ItemType:  cxdtypes.ItemTypeSystem,
		Status:    cxdtypes.ItemStatusComplete,
		Timestamp: o.OccurredAt.UnixMilli(),
		ID:        o.ID,
		System: &cxdtypes.SystemMessage{
			Kind:    cxdtypes.SystemKindError,
			Title:   title(o),
			Content: string(content),
		},
	}
	if first {
		item.ContextMetadata = &cxdtypes.ContextMetadata{
			Labels:    s.labels,
			ClientTag: s.clientTag,
		}
	}
	return item, nil
}

// title is "class: message", capped at 100 bytes.
func title(o squash.Occurrence) string {
	t := o.ClassName()
	if msg := o.Message(); msg != "" {
		const maxMsgLen = 80
		if len(msg) > maxMsgLen {
			msg = msg[:maxMsgLen] + "..."
		}
		t += ": " + msg
	}
	if len(t) > 100 {
		t = t[:97] + "..."
	}
	return t
}

// Flush is a no-op for the cxdb sink (writes are synchronous).
func (s *cxdbSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for the cxdb sink.
func (s *cxdbSink) Close() error {
	return nil
}
