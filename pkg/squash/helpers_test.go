package squash

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
)

var fixedTime = time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) ClientConfig {
	t.Helper()
	return ClientConfig{
		APIKey:      "test-api-key",
		Environment: "test",
		Host:        "http://squash.invalid",
		Revision:    "abc123",
		Version:     "1.2.3",
		Build:       "42",
		Directory:   t.TempDir(),
	}
}

func newTestCapturer(cfg ClientConfig) *Capturer {
	c := NewCapturer(cfg, StaticBuildInfo("sym-1"), EnvironmentProviders{}, discardLogger())
	c.now = func() time.Time { return fixedTime }
	return c
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

// sampleOccurrence returns a fully populated exception occurrence.
func sampleOccurrence() Occurrence {
	pid := 4242
	mem := uint64(16 << 30)
	native := true
	lat, lon := 52.52, 13.405
	return Occurrence{
		ID:              uuid.NewString(),
		SymbolicationID: "sym-1",
		Revision:        "abc123",
		Version:         "1.2.3",
		Build:           "42",
		Environment:     "test",
		Client:          ClientName,
		OccurredAt:      fixedTime,
		Kind: Exception{
			ClassName: "*errors.errorString",
			Message:   "boom",
			UserData:  Map{"user": String("alice"), "count": Number(3)},
			Backtrace: []uint64{0x401000, 0x401abc, 0x402000},
		},
		Host: Host{
			Hostname:        "box",
			PID:             &pid,
			ProcessPath:     "/usr/bin/app",
			ProcessNative:   &native,
			OperatingSystem: "linux",
			Architecture:    "amd64",
			PhysicalMemory:  &mem,
			Location:        &Location{Lat: &lat, Lon: &lon},
		},
		Arguments: []string{"/usr/bin/app", "-v"},
		EnvVars:   map[string]string{"HOME": "/home/app"},
	}
}

// appendSample persists a sample occurrence and returns it.
func appendSample(t *testing.T, s *Store, mutate ...func(*Occurrence)) Occurrence {
	t.Helper()
	o := sampleOccurrence()
	for _, m := range mutate {
		m(&o)
	}
	if err := s.Append(o); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return o
}

// fakeTrap records SignalTrap calls and lets tests deliver signals.
type fakeTrap struct {
	mu       sync.Mutex
	ch       chan<- os.Signal
	notified []os.Signal
	reset    []os.Signal
	raised   []os.Signal
	stopped  bool
	raiseErr error
	raisedCh chan os.Signal
}

func newFakeTrap() *fakeTrap {
	return &fakeTrap{raisedCh: make(chan os.Signal, 16)}
}

func (f *fakeTrap) Notify(c chan<- os.Signal, sigs ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = c
	f.notified = append(f.notified, sigs...)
}

func (f *fakeTrap) Stop(c chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTrap) Reset(sigs ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset = append(f.reset, sigs...)
}

func (f *fakeTrap) Raise(sig os.Signal) error {
	f.mu.Lock()
	f.raised = append(f.raised, sig)
	err := f.raiseErr
	f.mu.Unlock()
	f.raisedCh <- sig
	return err
}

// deliver simulates the OS delivering sig, honoring the subscription the
// way os/signal does. It reports whether the signal was routed.
func (f *fakeTrap) deliver(sig syscall.Signal) bool {
	f.mu.Lock()
	ch := f.ch
	subscribed := false
	for _, s := range f.notified {
		if s == sig {
			subscribed = true
		}
	}
	f.mu.Unlock()
	if ch == nil || !subscribed {
		return false
	}
	ch <- sig
	return true
}

func (f *fakeTrap) waitRaised(t *testing.T) os.Signal {
	t.Helper()
	select {
	case sig := <-f.raisedCh:
		return sig
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for re-raise")
		return nil
	}
}

func (f *fakeTrap) notifiedSignals() []os.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]os.Signal(nil), f.notified...)
}

func (f *fakeTrap) resetSignals() []os.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]os.Signal(nil), f.reset...)
}

// fixedAddresses is an AddressCapturer returning addrs.
func fixedAddresses(addrs ...uintptr) AddressCapturer {
	return func(buf []uintptr) int {
		return copy(buf, addrs)
	}
}

// testSink captures occurrences for verification in tests.
type testSink struct {
	mu          sync.Mutex
	occurrences []Occurrence
	writeErr    error
	flushed     int
	closed      int
}

func (s *testSink) Write(ctx context.Context, o Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.occurrences = append(s.occurrences, o)
	return nil
}

func (s *testSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed++
	return nil
}

func (s *testSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *testSink) getOccurrences() []Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Occurrence(nil), s.occurrences...)
}

// testObserver records Observer calls.
type testObserver struct {
	mu         sync.Mutex
	captures   []Occurrence
	deliveries []DeliveryResult
	depth      int
}

func (o *testObserver) ObserveCapture(occ Occurrence) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.captures = append(o.captures, occ)
}

func (o *testObserver) ObserveDelivery(r DeliveryResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deliveries = append(o.deliveries, r)
}

func (o *testObserver) ObserveQueueDepth(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depth = n
}
