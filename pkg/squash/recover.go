// recover.go records panics on the goroutine that raised them.

package squash

import (
	"context"
	"runtime"
	"strings"
)

// Recover records a panic in progress and then re-panics with the same
// value, so the program terminates as it would have without it. It must be
// deferred directly:
//
//	func worker(ctx context.Context) {
//	    defer client.Recover(ctx)
//	    // code that might panic
//	}
//
// User data attached with WithUserData is recorded with the panic. If the
// re-panic ends the process, the runtime's crash output for it is not
// reported again on the next launch.
func (c *Client) Recover(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	if id := c.RecordPanic(ctx, r); id != "" {
		c.crashes.markRecorded(id, r)
	} else if c.capturing() && c.capturer.IsIgnored(panicClassName(r)) {
		c.crashes.markRecorded("", r)
	}
	panic(r)
}

// Go runs fn on a new goroutine with Recover deferred.
func (c *Client) Go(ctx context.Context, fn func(ctx context.Context)) {
	go func() {
		defer c.Recover(ctx)
		fn(ctx)
	}()
}

// RecordPanic records v as an exception occurrence without re-panicking.
// It is for callers that recover themselves. It returns the occurrence ID,
// or "" when nothing was recorded.
func (c *Client) RecordPanic(ctx context.Context, v any) string {
	if !c.capturing() {
		return ""
	}
	o, ok := c.capturer.FromPanic(v, UserDataFromContext(ctx), callerBacktrace(3))
	if !ok {
		return ""
	}
	return c.persist(ctx, o)
}

// callerBacktrace returns the raw return addresses of the calling
// goroutine, skipping skip frames. While a panic is unwinding, the frames
// up to and including the runtime's panic machinery are dropped so the
// first address is the panic site.
func callerBacktrace(skip int) []uint64 {
	var pcs [MaxBacktraceDepth]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := pcs[panicSite(pcs[:n]):n]
	out := make([]uint64, len(frames))
	for i, pc := range frames {
		out[i] = uint64(pc)
	}
	return out
}

// panicSite returns the index of the first frame after runtime.gopanic and
// the runtime frames that raised it (panicmem, sigpanic, goPanicIndex...).
// It returns 0 when pcs holds no panic.
func panicSite(pcs []uintptr) int {
	start := -1
	for i, pc := range pcs {
		if fn := runtime.FuncForPC(pc - 1); fn != nil && fn.Name() == "runtime.gopanic" {
			start = i + 1
		}
	}
	if start < 0 {
		return 0
	}
	for start < len(pcs) {
		fn := runtime.FuncForPC(pcs[start] - 1)
		if fn == nil || !strings.HasPrefix(fn.Name(), "runtime.") {
			break
		}
		start++
	}
	if start == len(pcs) {
		return 0
	}
	return start
}
