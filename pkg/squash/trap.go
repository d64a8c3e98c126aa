// trap.go binds the signal hook to the operating system.

package squash

import (
	"os"
	"os/signal"
	"runtime"
)

// SignalTrap is the operating-system side of signal handling.
type SignalTrap interface {
	// Notify routes sigs to c instead of their default action.
	Notify(c chan<- os.Signal, sigs ...os.Signal)

	// Stop undoes Notify for c.
	Stop(c chan<- os.Signal)

	// Reset restores the default action for sigs.
	Reset(sigs ...os.Signal)

	// Raise sends sig to the current process.
	Raise(sig os.Signal) error
}

// OSTrap is the SignalTrap backed by os/signal.
type OSTrap struct{}

// Notify calls signal.Notify.
func (OSTrap) Notify(c chan<- os.Signal, sigs ...os.Signal) { signal.Notify(c, sigs...) }

// Stop calls signal.Stop.
func (OSTrap) Stop(c chan<- os.Signal) { signal.Stop(c) }

// Reset calls signal.Reset.
func (OSTrap) Reset(sigs ...os.Signal) { signal.Reset(sigs...) }

// Raise sends sig to this process.
func (OSTrap) Raise(sig os.Signal) error { return raise(sig) }

// AddressCapturer fills buf with raw return addresses of the calling
// goroutine and returns how many were written. It must not grow buf.
type AddressCapturer func(buf []uintptr) int

// CallerAddresses is the default AddressCapturer.
func CallerAddresses(buf []uintptr) int {
	return runtime.Callers(2, buf)
}
