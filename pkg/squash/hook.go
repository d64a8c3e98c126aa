// hook.go installs the process-wide signal handler.

package squash

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// MaxBacktraceDepth bounds the addresses captured for a signal.
const MaxBacktraceDepth = 128

// SignalHandler records a trapped signal. addresses is only valid for the
// duration of the call.
type SignalHandler func(sig syscall.Signal, addresses []uint64)

// Hook routes the configured fatal signals to a SignalHandler, then
// restores the default action and re-raises each signal so the process
// still terminates (and dumps core) as the platform expects.
type Hook struct {
	installed atomic.Bool

	trap    SignalTrap
	signals []os.Signal
	capture AddressCapturer
	handler SignalHandler
	logger  *slog.Logger

	ch       chan os.Signal
	done     chan struct{}
	stopOnce sync.Once

	// Preallocated so the handler never grows a buffer.
	pcs   [MaxBacktraceDepth]uintptr
	addrs [MaxBacktraceDepth]uint64
}

// NewHook creates a Hook for signals. Nil trap and capture take OSTrap
// and CallerAddresses.
func NewHook(trap SignalTrap, signals []syscall.Signal, capture AddressCapturer, handler SignalHandler, logger *slog.Logger) *Hook {
	if trap == nil {
		trap = OSTrap{}
	}
	if capture == nil {
		capture = CallerAddresses
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hook{
		trap:    trap,
		capture: capture,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
	seen := make(map[syscall.Signal]bool, len(signals))
	for _, s := range signals {
		if !seen[s] {
			seen[s] = true
			h.signals = append(h.signals, s)
		}
	}
	return h
}

// Install subscribes to the signals exactly once. It returns false if the
// hook was already installed.
func (h *Hook) Install() bool {
	if !h.installed.CompareAndSwap(false, true) {
		return false
	}
	if len(h.signals) == 0 {
		return true
	}
	h.ch = make(chan os.Signal, len(h.signals))
	h.trap.Notify(h.ch, h.signals...)
	go h.loop()
	return true
}

// Installed reports whether Install has succeeded.
func (h *Hook) Installed() bool {
	return h.installed.Load()
}

// Uninstall stops routing signals to the handler. The hook cannot be
// installed again.
func (h *Hook) Uninstall() {
	if !h.installed.Load() {
		return
	}
	h.stopOnce.Do(func() {
		if h.ch != nil {
			h.trap.Stop(h.ch)
			h.trap.Reset(h.signals...)
		}
		close(h.done)
	})
}

func (h *Hook) loop() {
	for {
		select {
		case sig := <-h.ch:
			h.handle(sig)
		case <-h.done:
			return
		}
	}
}

// handle records sig and re-raises it. A failing or panicking handler
// never prevents the re-raise.
func (h *Hook) handle(sig os.Signal) {
	defer func() {
		h.trap.Reset(sig)
		if err := h.trap.Raise(sig); err != nil {
			h.logger.Error("re-raise signal failed", "signal", sig, "error", err)
		}
	}()

	s, ok := sig.(syscall.Signal)
	if !ok || h.handler == nil {
		return
	}
	h.record(s)
}

func (h *Hook) record(sig syscall.Signal) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("signal handler panicked", "signal", SignalName(sig), "panic", formatRecovered(r))
		}
	}()

	n := h.capture(h.pcs[:])
	if n > len(h.pcs) {
		n = len(h.pcs)
	}
	for i := 0; i < n; i++ {
		h.addrs[i] = uint64(h.pcs[i])
	}
	h.handler(sig, h.addrs[:n])
}
