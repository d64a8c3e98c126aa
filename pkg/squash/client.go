// client.go provides the Client facade that wires capture, storage, the
// signal hook and delivery together.

package squash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger    *slog.Logger
	sink      Sink
	observer  Observer
	http      *http.Client
	trap      SignalTrap
	addresses AddressCapturer
	build     BuildInfo
	providers EnvironmentProviders
	limiter   *rate.Limiter
	now       func() time.Time
}

// WithLogger sets the logger. The default is slog.Default() scoped to the
// "squash" component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithSink mirrors every persisted exception occurrence to sink.
func WithSink(sink Sink) Option {
	return func(o *clientOptions) {
		o.sink = sink
	}
}

// WithObserver reports capture and delivery events to observer.
func WithObserver(observer Observer) Option {
	return func(o *clientOptions) {
		o.observer = observer
	}
}

// WithHTTPClient sets the client used for delivery.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.http = client
	}
}

// WithSignalTrap replaces the os/signal binding, mainly for tests.
func WithSignalTrap(trap SignalTrap) Option {
	return func(o *clientOptions) {
		o.trap = trap
	}
}

// WithAddressCapturer replaces the return address capture of the signal
// path.
func WithAddressCapturer(capture AddressCapturer) Option {
	return func(o *clientOptions) {
		o.addresses = capture
	}
}

// WithBuildInfo sets the symbolication ID provider. The default reads the
// running executable.
func WithBuildInfo(build BuildInfo) Option {
	return func(o *clientOptions) {
		o.build = build
	}
}

// WithEnvironmentProviders sets the device, location and network providers.
func WithEnvironmentProviders(providers EnvironmentProviders) Option {
	return func(o *clientOptions) {
		o.providers = providers
	}
}

// WithRateLimit paces delivery to at most perSecond requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *clientOptions) {
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClock sets the time source for capture and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

// Client captures failures of the current process and delivers queued
// occurrences. Independent Clients with independent directories do not
// share state.
type Client struct {
	cfg      ClientConfig
	logger   *slog.Logger
	sink     Sink
	observer Observer

	capturer *Capturer
	store    *Store
	storeErr error
	uploader *Uploader
	hook     *Hook
	crashes  *crashLogs

	hooked    atomic.Bool
	closeOnce sync.Once
}

// New creates a Client for cfg. It never fails: an unusable configuration
// or queue directory turns Hook and ReportErrors into no-ops.
func New(cfg ClientConfig, opts ...Option) *Client {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "squash")
	}
	if o.sink == nil {
		o.sink = noopSinkInternal{}
	}
	if o.observer == nil {
		o.observer = noopObserver{}
	}
	if o.build == nil {
		o.build = &ExecutableBuildInfo{}
	}

	cfg = cfg.withDefaults()
	c := &Client{
		cfg:      cfg,
		logger:   o.logger,
		sink:     o.sink,
		observer: o.observer,
		capturer: NewCapturer(cfg, o.build, o.providers, o.logger),
		crashes:  newCrashLogs(cfg.Directory, o.logger),
	}
	if o.now != nil {
		c.capturer.now = o.now
	}

	c.store, c.storeErr = NewStore(cfg.Directory)
	if c.storeErr != nil {
		c.logger.Warn("occurrence store unavailable", "dir", cfg.Directory, "error", c.storeErr)
	} else {
		c.uploader = NewUploader(c.store, UploaderConfig{
			URL:        cfg.NotifyURL(),
			APIKey:     cfg.APIKey,
			Timeout:    cfg.Timeout,
			MaxAge:     cfg.MaxAge,
			HTTPClient: o.http,
			Limiter:    o.limiter,
			Logger:     o.logger,
			Observer:   o.observer,
		})
		if o.now != nil {
			c.uploader.now = o.now
			c.store.now = o.now
		}
	}

	c.hook = NewHook(o.trap, cfg.HandledSignals, o.addresses, c.recordSignal, o.logger)
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// Store returns the occurrence queue, or nil if it could not be created.
func (c *Client) Store() *Store {
	return c.store
}

// IsConfigured reports whether every required config field is set.
func (c *Client) IsConfigured() bool {
	return c.cfg.IsConfigured()
}

// Hook installs the fatal signal handler and redirects the runtime's crash
// output so fatal panics are reported on the next launch. It is a no-op
// when the client is disabled or already hooked. An unconfigured client
// returns the *ConfigError.
func (c *Client) Hook() error {
	if c.cfg.Disabled {
		return nil
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.storeErr != nil {
		return fmt.Errorf("hook: %w", c.storeErr)
	}
	if !c.hooked.CompareAndSwap(false, true) {
		return nil
	}

	c.hook.Install()
	if err := c.crashes.install(); err != nil {
		c.logger.Warn("crash output not redirected", "error", err)
	}
	c.logger.Debug("hooked", "signals", signalList(c.cfg.HandledSignals), "dir", c.cfg.Directory)
	return nil
}

// Hooked reports whether Hook has installed the handlers.
func (c *Client) Hooked() bool {
	return c.hooked.Load()
}

// ReportErrors converts crash logs left by earlier processes into
// occurrences, then attempts delivery of everything queued. Disabling the
// client does not stop delivery. It is a no-op for an unconfigured client.
func (c *Client) ReportErrors(ctx context.Context) DrainReport {
	if !c.IsConfigured() {
		return DrainReport{}
	}
	if c.storeErr != nil {
		return DrainReport{Err: c.storeErr}
	}

	for _, o := range c.crashes.ingest(c.capturer, c.store) {
		c.observer.ObserveCapture(o)
		c.mirror(ctx, o)
	}

	report := c.uploader.Drain(ctx)
	if n := len(report.Results); n > 0 {
		c.logger.Info("occurrences drained",
			"acknowledged", report.Count(OutcomeAcknowledged),
			"retry_later", report.Count(OutcomeRetryLater),
			"corrupt", report.Count(OutcomeCorrupt),
			"expired", report.Count(OutcomeExpired))
	}
	return report
}

// RecordError captures err as a handled exception occurrence. It returns
// the occurrence ID, or "" when nothing was recorded.
func (c *Client) RecordError(ctx context.Context, err error, userData map[string]any) string {
	if err == nil || !c.capturing() {
		return ""
	}
	extra := mergeUserData(UserDataFromContext(ctx), userData)
	o, ok := c.capturer.FromPanic(err, extra, callerBacktrace(3))
	if !ok {
		return ""
	}
	return c.persist(ctx, o)
}

// Close flushes and closes the sink and uninstalls the signal hook.
// Captured occurrences stay queued for a later ReportErrors.
func (c *Client) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.hook.Uninstall()
		flushCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		defer cancel()
		if err := c.sink.Flush(flushCtx); err != nil {
			errs = append(errs, fmt.Errorf("flush sink: %w", err))
		}
		if err := c.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	})
	return errors.Join(errs...)
}

func (c *Client) capturing() bool {
	return !c.cfg.Disabled && c.IsConfigured() && c.storeErr == nil
}

// persist appends o, then notifies the observer and sink. Failures are
// logged and swallowed.
func (c *Client) persist(ctx context.Context, o Occurrence) string {
	if err := c.store.Append(o); err != nil {
		c.logger.Error("persist occurrence failed", "id", o.ID, "class", o.ClassName(), "error", err)
		return ""
	}
	c.observer.ObserveCapture(o)
	c.mirror(ctx, o)
	return o.ID
}

func (c *Client) mirror(ctx context.Context, o Occurrence) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.sink.Write(ctx, o); err != nil {
		c.logger.Warn("sink write failed", "id", o.ID, "error", err)
	}
}

// recordSignal is the Hook's handler. It uses only the precomputed
// environment and a single write.
func (c *Client) recordSignal(sig syscall.Signal, addresses []uint64) {
	if c.cfg.Disabled || c.store == nil {
		return
	}
	o := c.capturer.FromSignal(int(sig), addresses)
	if err := c.store.AppendDirect(o); err != nil {
		c.logger.Error("persist signal occurrence failed", "signal", SignalName(sig), "error", err)
		return
	}
	// The runtime reports the re-raised signal too; that copy must not
	// become a second occurrence.
	c.crashes.release()
	c.observer.ObserveCapture(o)
}

func mergeUserData(ctxData Map, userData map[string]any) Map {
	if len(ctxData) == 0 && len(userData) == 0 {
		return nil
	}
	m := make(Map, len(ctxData)+len(userData))
	for k, v := range ctxData {
		m[k] = v
	}
	for k, v := range userData {
		m[k] = ValueOf(v)
	}
	return m
}

func signalList(sigs []syscall.Signal) string {
	names := make([]string, len(sigs))
	for i, s := range sigs {
		names[i] = SignalName(s)
	}
	return strings.Join(names, ",")
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to
// Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
