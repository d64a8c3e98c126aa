// squash-drain delivers the occurrences queued by a squash client, for
// processes that never get to call ReportErrors themselves.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strongdm/squash-go/pkg/squash"
	"github.com/strongdm/squash-go/pkg/squash/metrics"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("squash-drain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "config file (.yaml, .yml, .toml or .json)")
		dir         = fs.String("dir", "", "queue directory (overrides config)")
		list        = fs.Bool("list", false, "list queued occurrences and exit")
		watch       = fs.Duration("watch", 0, "drain repeatedly at this interval instead of once")
		metricsAddr = fs.String("metrics-addr", "", "serve Prometheus metrics on this address while watching")
		rps         = fs.Float64("rate", 0, "max notify requests per second (0 = unlimited)")
		logLevel    = fs.String("log-level", "", "debug, info, warn or error")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := squash.LoadConfigOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "squash-drain: %v\n", err)
		return 1
	}
	if *dir != "" {
		cfg.Directory = *dir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	// The default directory is derived from the executable name, which
	// would be ours rather than the crashing program's.
	if cfg.Directory == "" {
		fmt.Fprintln(stderr, "squash-drain: queue directory required (-dir, SQUASH_DIR or config)")
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: squash.ParseLevel(cfg.LogLevel),
	})).With("component", "squash-drain")

	if *list {
		return listQueue(cfg, stdout, stderr)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "squash-drain: %v\n", err)
		return 1
	}

	opts := []squash.Option{squash.WithLogger(logger)}
	if *rps > 0 {
		opts = append(opts, squash.WithRateLimit(*rps, 1))
	}

	reg := prometheus.NewRegistry()
	observer, err := metrics.NewObserver(reg)
	if err != nil {
		fmt.Fprintf(stderr, "squash-drain: %v\n", err)
		return 1
	}
	opts = append(opts, squash.WithObserver(observer))

	client := squash.New(cfg, opts...)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watch <= 0 {
		report := client.ReportErrors(ctx)
		printReport(stdout, report)
		if report.Err != nil {
			return 1
		}
		return 0
	}

	if *metricsAddr != "" {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	ticker := time.NewTicker(*watch)
	defer ticker.Stop()
	for {
		printReport(stdout, client.ReportErrors(ctx))
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
		}
	}
}

func listQueue(cfg squash.ClientConfig, stdout, stderr io.Writer) int {
	client := squash.New(cfg)
	store := client.Store()
	if store == nil {
		fmt.Fprintln(stderr, "squash-drain: queue directory unavailable")
		return 1
	}
	entries, err := store.List()
	if err != nil {
		fmt.Fprintf(stderr, "squash-drain: %v\n", err)
		return 1
	}
	for _, e := range entries {
		if e.Err != nil {
			fmt.Fprintf(stdout, "%s\tCORRUPT\t%v\n", e.ID, e.Err)
			continue
		}
		o := e.Occurrence
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", e.ID, o.OccurredAt.Format(time.RFC3339), o.ClassName(), o.Message())
	}
	return 0
}

func printReport(w io.Writer, r squash.DrainReport) {
	if r.Err != nil {
		fmt.Fprintf(w, "drain failed: %v\n", r.Err)
		return
	}
	fmt.Fprintf(w, "acknowledged=%d retry_later=%d corrupt=%d expired=%d\n",
		r.Count(squash.OutcomeAcknowledged),
		r.Count(squash.OutcomeRetryLater),
		r.Count(squash.OutcomeCorrupt),
		r.Count(squash.OutcomeExpired))
}
