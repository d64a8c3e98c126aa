// Package squash captures panics and fatal signals of a Go process,
// persists each one as an Occurrence in a durable on-disk queue, and later
// delivers queued occurrences to a Squash-compatible notify endpoint.
//
// A record is removed from the queue only after the endpoint acknowledges
// it with a 2xx response, so delivery is attempted at least once and
// acknowledged at most once.
//
// # Core Components
//
//   - Occurrence: one captured exception or signal plus environment context
//   - Capturer: builds occurrences, applying ignore lists and redaction
//   - Store: file-per-record queue under <dir>/occurrences
//   - Uploader: drains the Store one record at a time
//   - Hook: routes fatal signals to the Store, then re-raises them
//   - Client: the facade tying these together
//
// # Quick Start
//
//	client := squash.New(squash.ClientConfig{
//	    APIKey:      os.Getenv("SQUASH_API_KEY"),
//	    Environment: "production",
//	    Host:        "https://squash.example.com",
//	    Revision:    revision,
//	})
//	if err := client.Hook(); err != nil {
//	    log.Printf("squash disabled: %v", err)
//	}
//	go client.ReportErrors(context.Background())
//
//	func worker(ctx context.Context) {
//	    defer client.Recover(ctx)
//	    // code that might panic
//	}
//
// Fatal panics that escape every Recover are written by the runtime to a
// crash log once Hook has run; the next launch's ReportErrors turns each
// crash log into an occurrence.
//
// # Design Principles
//
//   - Capture never surfaces errors to the failing code path; failures are logged
//   - Fail-closed scrubbing: sensitive keys and secrets are removed before persisting
//   - Delivery order carries no meaning; one bad record never blocks the others
package squash
