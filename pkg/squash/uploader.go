// uploader.go drains the store to the notify endpoint, one record at a time.

package squash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	// OutcomeAcknowledged means the host returned 2xx and the record was removed.
	OutcomeAcknowledged Outcome = "acknowledged"

	// OutcomeRetryLater means delivery failed and the record is still queued.
	OutcomeRetryLater Outcome = "retry_later"

	// OutcomeCorrupt means the record could not be decoded and was quarantined.
	OutcomeCorrupt Outcome = "corrupt"

	// OutcomeExpired means the record was older than MaxAge and was discarded.
	OutcomeExpired Outcome = "expired"
)

// DeliveryResult describes what happened to one record during a drain.
type DeliveryResult struct {
	ID         string
	Outcome    Outcome
	StatusCode int
	Duration   time.Duration
	Err        error
}

// DrainReport summarizes a drain. Results are in processing order, which
// carries no meaning.
type DrainReport struct {
	Results []DeliveryResult

	// Err is set when the queue could not be listed at all.
	Err error
}

// Count returns the number of results with the given outcome.
func (r DrainReport) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// DeliveryError is a non-2xx response from the notify endpoint.
type DeliveryError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: HTTP %d: %s", e.StatusCode, e.Body)
}

// UploaderConfig configures an Uploader.
type UploaderConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	MaxAge  time.Duration

	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client

	// Limiter, when set, paces requests.
	Limiter *rate.Limiter

	Logger   *slog.Logger
	Observer Observer
}

// Uploader delivers queued occurrences. Drain calls are serialized.
type Uploader struct {
	store    *Store
	client   *http.Client
	url      string
	apiKey   string
	timeout  time.Duration
	maxAge   time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu sync.Mutex
	// acked holds IDs acknowledged by the host whose files could not be
	// removed; they are never posted again by this Uploader.
	acked map[string]struct{}
}

// NewUploader creates an Uploader for store.
func NewUploader(store *Store, cfg UploaderConfig) *Uploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	return &Uploader{
		store:    store,
		client:   cfg.HTTPClient,
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		maxAge:   cfg.MaxAge,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		now:      time.Now,
		acked:    make(map[string]struct{}),
	}
}

// Drain attempts delivery of every queued record, sequentially. Failed
// records stay queued for the next Drain; no backoff state is kept, so
// callers should space out calls. Drain stops early if ctx is done.
func (u *Uploader) Drain(ctx context.Context) DrainReport {
	u.mu.Lock()
	defer u.mu.Unlock()

	var report DrainReport
	entries, err := u.store.List()
	if err != nil {
		u.logger.Warn("list occurrences failed", "error", err)
		report.Err = err
		return report
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		res, ok := u.deliver(ctx, entry)
		if !ok {
			continue
		}
		report.Results = append(report.Results, res)
		u.observer.ObserveDelivery(res)
	}

	if n, err := u.store.Len(); err == nil {
		u.observer.ObserveQueueDepth(n)
	}
	return report
}

// deliver handles one entry. It returns false for entries skipped without
// an attempt.
func (u *Uploader) deliver(ctx context.Context, entry Entry) (DeliveryResult, bool) {
	res := DeliveryResult{ID: entry.ID}

	if _, done := u.acked[entry.ID]; done {
		if err := u.store.Remove(entry.ID); err == nil {
			delete(u.acked, entry.ID)
		}
		return res, false
	}

	if entry.Err != nil {
		res.Outcome = OutcomeCorrupt
		res.Err = entry.Err
		if err := u.store.Quarantine(entry.ID); err != nil {
			u.logger.Warn("quarantine failed, removing record", "id", entry.ID, "error", err)
			_ = u.store.Remove(entry.ID)
		}
		u.logger.Warn("corrupt occurrence quarantined", "id", entry.ID, "error", entry.Err)
		return res, true
	}

	if age := u.now().Sub(entry.Occurrence.OccurredAt); age > u.maxAge {
		res.Outcome = OutcomeExpired
		if err := u.store.Remove(entry.ID); err != nil {
			res.Err = err
		}
		u.logger.Info("expired occurrence discarded", "id", entry.ID, "age", age)
		return res, true
	}

	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return res, false
		}
	}

	start := u.now()
	status, err := u.post(ctx, entry.Occurrence)
	res.Duration = u.now().Sub(start)
	res.StatusCode = status
	if err != nil {
		res.Outcome = OutcomeRetryLater
		res.Err = err
		u.logger.Debug("occurrence delivery failed", "id", entry.ID, "error", err)
		return res, true
	}

	res.Outcome = OutcomeAcknowledged
	if err := u.store.Remove(entry.ID); err != nil {
		u.acked[entry.ID] = struct{}{}
		res.Err = err
		u.logger.Warn("remove acknowledged occurrence failed", "id", entry.ID, "error", err)
	}
	return res, true
}

// post sends one occurrence. A nil error means the host acknowledged it.
func (u *Uploader) post(ctx context.Context, o Occurrence) (int, error) {
	body, err := marshalNotify(o, u.apiKey)
	if err != nil {
		return 0, fmt.Errorf("notify: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "squash-go")

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("notify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, &DeliveryError{StatusCode: resp.StatusCode, Body: string(snippet)}
}

// IsDeliveryError reports whether err is a non-2xx response.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
