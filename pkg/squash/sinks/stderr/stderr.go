// Package stderr provides a sink that prints occurrences to stderr in a
// human-readable format. Useful for development and debugging.
package stderr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/strongdm/squash-go/pkg/squash"
)

// StderrSinkOption configures the stderr sink.
type StderrSinkOption func(*stderrSinkConfig)

type stderrSinkConfig struct {
	verbose bool
	out     io.Writer
}

// WithVerbose includes backtraces and user data in the output.
func WithVerbose() StderrSinkOption {
	return func(c *stderrSinkConfig) {
		c.verbose = true
	}
}

// WithWriter writes to w instead of os.Stderr.
func WithWriter(w io.Writer) StderrSinkOption {
	return func(c *stderrSinkConfig) {
		c.out = w
	}
}

type stderrSink struct {
	mu      sync.Mutex
	verbose bool
	out     io.Writer
}

// NewStderrSink creates a sink that writes to stderr.
func NewStderrSink(opts ...StderrSinkOption) squash.Sink {
	cfg := &stderrSinkConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &stderrSink{
		verbose: cfg.verbose,
		out:     cfg.out,
	}
}

// Write formats and outputs the occurrence.
//
// Format: [SQUASH] <timestamp> <KIND> <class> in <environment> (rev <revision>)
func (s *stderrSink) Write(ctx context.Context, o squash.Occurrence) error {
	var b strings.Builder

	kind := "EXCEPTION"
	if _, ok := o.Kind.(squash.Signal); ok {
		kind = "SIGNAL"
	}
	timestamp := o.OccurredAt.Format("2006-01-02T15:04:05Z07:00")

	parts := []string{fmt.Sprintf("[SQUASH] %s %s %s", timestamp, kind, o.ClassName())}
	if o.Environment != "" {
		parts = append(parts, fmt.Sprintf("in %s", o.Environment))
	}
	if o.Revision != "" {
		parts = append(parts, fmt.Sprintf("(rev %s)", o.Revision))
	}
	b.WriteString(strings.Join(parts, " "))
	b.WriteByte('\n')

	if msg := o.Message(); msg != "" {
		fmt.Fprintf(&b, "        Message: %s\n", msg)
	}
	fmt.Fprintf(&b, "        ID: %s\n", o.ID)
	fmt.Fprintf(&b, "        Fingerprint: %s\n", squash.Fingerprint(o))

	if s.verbose {
		if exc, ok := o.Kind.(squash.Exception); ok && len(exc.UserData) > 0 {
			fmt.Fprintf(&b, "        User data:\n")
			for _, k := range sortedKeys(exc.UserData) {
				if k == squash.UserDataTraceback {
					continue
				}
				fmt.Fprintf(&b, "          %s: %s\n", k, formatValue(exc.UserData[k]))
			}
			if tb, ok := exc.UserData[squash.UserDataTraceback].(squash.String); ok {
				fmt.Fprintf(&b, "        Traceback:\n")
				for _, line := range strings.Split(string(tb), "\n") {
					fmt.Fprintf(&b, "          %s\n", line)
				}
			}
		}
		if bt := o.Backtrace(); len(bt) > 0 {
			fmt.Fprintf(&b, "        Backtrace:\n")
			for _, addr := range bt {
				fmt.Fprintf(&b, "          0x%x\n", addr)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.out
	if out == nil {
		out = os.Stderr
	}
	_, err := io.WriteString(out, b.String())
	return err
}

// Flush is a no-op for stderr sink.
func (s *stderrSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for stderr sink.
func (s *stderrSink) Close() error {
	return nil
}
