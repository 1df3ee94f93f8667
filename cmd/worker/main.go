// Command worker is one dispatcher worker process: it opens a shared
// SQLite job store, claims runnable jobs, executes the configured command
// for each, and records outcomes back into the store until no more work can
// ever become claimable or its deadline budget is exhausted.
//
// Usage:
//
//	worker <db_file> <command> [options]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/jobscheduler/dispatcher/internal/argfmt"
	"github.com/jobscheduler/dispatcher/internal/config"
	"github.com/jobscheduler/dispatcher/internal/deadline"
	"github.com/jobscheduler/dispatcher/internal/executor"
	"github.com/jobscheduler/dispatcher/internal/logctx"
	"github.com/jobscheduler/dispatcher/internal/metrics"
	"github.com/jobscheduler/dispatcher/internal/store"
	"github.com/jobscheduler/dispatcher/internal/worker"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run contains main's logic as a function returning an exit code, so it can
// be called without os.Exit.
func run(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	maxRuntime := fs.Int("max-runtime", 86400, "maximum worker runtime in seconds before it stops claiming new work")
	marginTime := fs.Int("margin-time", 0, "seconds of headroom reserved before max-runtime for in-flight jobs to finish")
	speedFactor := fs.Float64("speed-factor", 1.0, "scales estimate_time against the remaining budget; >1 admits more")
	smartScheduling := fs.Bool("smart-scheduling", true, "reject jobs whose estimate_time would exceed the remaining budget")
	namedArgs := fs.Bool("named-args", false, "pass job params as --key value pairs instead of positional order")
	parallel := fs.Int("parallel", 1, "number of jobs this worker executes concurrently")
	depWaitInterval := fs.Int("dep-wait-interval", 30, "seconds to sleep before re-polling when work is waiting on dependencies")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: worker <db_file> <command> [options]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	positional := fs.Args()
	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, "worker: <db_file> and <command> are required")
		fs.Usage()
		return 2
	}
	dbFile, commandTemplate := positional[0], positional[1]
	// The flag package stops at the first positional argument, so options
	// written after <db_file> <command> are parsed in a second pass.
	if err := fs.Parse(positional[2:]); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}
	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commandArgv, err := argfmt.TokenizeCommand(commandTemplate)
	if err != nil {
		logger.Error("invalid command template", "error", err)
		return 2
	}

	s, err := store.Open(dbFile)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	columns, err := s.ParamColumns(ctx)
	if err != nil {
		logger.Error("load param columns", "error", err)
		return 1
	}

	mode := argfmt.Positional
	if *namedArgs {
		mode = argfmt.Named
	}

	metrics.Register()
	metrics.WorkerStartTime.Set(float64(time.Now().Unix()))
	metricsSrv := metrics.NewServer(cfg.MetricsAddr)
	go func() {
		logger.Info("metrics listener started", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	exec := executor.New(s, commandArgv, columns, mode, logger)

	model := deadline.Model{
		MaxRuntime:      time.Duration(*maxRuntime) * time.Second,
		MarginTime:      time.Duration(*marginTime) * time.Second,
		SpeedFactor:     *speedFactor,
		SmartScheduling: *smartScheduling,
	}
	workerCfg := worker.Config{
		Deadline:        model,
		Parallel:        *parallel,
		DepWaitInterval: time.Duration(*depWaitInterval) * time.Second,
	}

	w := worker.New(s, exec, workerCfg, logger, time.Now())

	runErr := w.Run(ctx)
	metrics.WorkerShutdownsTotal.Inc()
	if runErr != nil {
		logger.Error("worker exited with a fatal error", "error", runErr)
		return 1
	}
	logger.Info("worker exited cleanly")
	return 0
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(logctx.New(inner))
}
