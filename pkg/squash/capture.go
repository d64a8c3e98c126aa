// capture.go builds Occurrence records from panics, errors and signals.

package squash

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Capturer turns failures into Occurrences. Everything the signal path
// needs is computed once in NewCapturer.
type Capturer struct {
	revision    string
	version     string
	build       string
	environment string

	symbolicationID string
	ignored         map[string]struct{}
	scrubber        *Scrubber
	providers       EnvironmentProviders
	logger          *slog.Logger
	now             func() time.Time

	// Preformatted for the signal path.
	minimalHost Host
	arguments   []string
	envVars     map[string]string
}

// NewCapturer creates a Capturer for cfg. build may be nil.
func NewCapturer(cfg ClientConfig, build BuildInfo, providers EnvironmentProviders, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Capturer{
		revision:    cfg.Revision,
		version:     cfg.Version,
		build:       cfg.Build,
		environment: cfg.Environment,
		ignored:     make(map[string]struct{}, len(cfg.IgnoredExceptions)),
		scrubber: NewScrubber(ScrubberConfig{
			FilterUserDataKeys: cfg.FilterUserDataKeys,
			FilterEnvVars:      cfg.FilterEnvVars,
			ScrubMessages:      true,
		}),
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
	for _, name := range cfg.IgnoredExceptions {
		c.ignored[name] = struct{}{}
	}
	if build != nil {
		c.symbolicationID = build.SymbolicationID()
	}
	c.minimalHost = MinimalEnvironment()
	c.arguments = c.scrubber.FilterArguments(captureArguments())
	c.envVars = c.scrubber.FilterEnvVars(captureEnvVars())
	return c
}

// IsIgnored reports whether className is in the ignored set.
func (c *Capturer) IsIgnored(className string) bool {
	_, ok := c.ignored[className]
	return ok
}

// FromException builds an exception occurrence. It returns false, without
// doing any other work, when className is ignored.
func (c *Capturer) FromException(className, message string, userData Map, backtrace []uint64) (Occurrence, bool) {
	if c.IsIgnored(className) {
		return Occurrence{}, false
	}

	o := c.newOccurrence()
	o.Kind = Exception{
		ClassName: className,
		Message:   c.scrubber.ScrubMessage(message),
		UserData:  c.scrubber.FilterUserData(userData),
		Backtrace: backtrace,
	}
	o.Host = CaptureEnvironment(c.providers, c.logger)
	o.Arguments = c.scrubber.FilterArguments(captureArguments())
	o.EnvVars = c.scrubber.FilterEnvVars(captureEnvVars())
	return o, true
}

// FromPanic builds an exception occurrence from a recovered panic value or
// an error. User data comes from extra and from any UserDataProvider in the
// error chain; extra wins on conflicts.
func (c *Capturer) FromPanic(recovered any, extra Map, backtrace []uint64) (Occurrence, bool) {
	className := panicClassName(recovered)
	if c.IsIgnored(className) {
		return Occurrence{}, false
	}

	var userData Map
	if err, ok := recovered.(error); ok {
		var p UserDataProvider
		if errors.As(err, &p) {
			if m, ok := ValueOf(p.UserData()).(Map); ok {
				userData = m
			}
		}
	}
	if len(extra) > 0 {
		if userData == nil {
			userData = make(Map, len(extra))
		}
		for k, v := range extra {
			userData[k] = v
		}
	}

	return c.FromException(className, formatRecovered(recovered), userData, backtrace)
}

// FromSignal builds a signal occurrence using only precomputed environment
// data. addresses is copied.
func (c *Capturer) FromSignal(number int, addresses []uint64) Occurrence {
	o := c.newOccurrence()
	o.Kind = Signal{
		Number:    number,
		Name:      SignalName(syscall.Signal(number)),
		Backtrace: append([]uint64(nil), addresses...),
	}
	o.Host = c.minimalHost
	o.Arguments = c.arguments
	o.EnvVars = c.envVars
	return o
}

func (c *Capturer) newOccurrence() Occurrence {
	return Occurrence{
		ID:              uuid.NewString(),
		SymbolicationID: c.symbolicationID,
		Revision:        c.revision,
		Version:         c.version,
		Build:           c.build,
		Environment:     c.environment,
		Client:          ClientName,
		OccurredAt:      c.now().UTC(),
	}
}

// panicClassName names a panic value by its dynamic type.
func panicClassName(recovered any) string {
	if recovered == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", recovered)
}

// formatRecovered formats a recovered panic value as a string.
func formatRecovered(recovered any) string {
	if recovered == nil {
		return "<nil>"
	}
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", recovered)
}

var signalNames = map[syscall.Signal]string{
	syscall.SIGABRT: "SIGABRT",
	syscall.SIGBUS:  "SIGBUS",
	syscall.SIGFPE:  "SIGFPE",
	syscall.SIGILL:  "SIGILL",
	syscall.SIGSEGV: "SIGSEGV",
	syscall.SIGTRAP: "SIGTRAP",
	syscall.SIGQUIT: "SIGQUIT",
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGHUP:  "SIGHUP",
	syscall.SIGPIPE: "SIGPIPE",
	syscall.SIGKILL: "SIGKILL",
}

// SignalName returns the conventional name of sig, e.g. "SIGSEGV".
func SignalName(sig syscall.Signal) string {
	if name, ok := signalNames[sig]; ok {
		return name
	}
	return "SIG" + strconv.Itoa(int(sig))
}
