package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/maxpert/engage/engine"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.2.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		runBenchmark(args)
	case "version":
		fmt.Printf("pika version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pika - Engage event engine benchmark tool

Usage:
  pika <command> [options]

Commands:
  run       Drive an in-process engine with a generated workload
  version   Print version
  help      Show this help

Run Options:
  --store         Durable counter store: memory|sqlite|pebble (default: memory)
  --data-dir      Data directory for sqlite/pebble and the outbox (default: temp dir)
  --write-mode    write_through|write_back (default: write_through)
  --workers       Engine worker count (default: 4)
  --capacity      Event queue capacity, power of two (default: 1024)
  --notify        Enable the notification outbox (default: false)
  --workload      Workload type: mixed|like-heavy|view-heavy (default: mixed)
  --operations    Total events to publish (default: 100000)
  --duration      Duration to run (e.g., 30s), overrides --operations
  --threads       Number of concurrent producers (default: 10)
  --users         Simulated users (default: 1000)
  --posts         Simulated posts (default: 100)
  --like-pct      Like percentage (overrides workload default)
  --unlike-pct    Unlike percentage (overrides workload default)
  --comment-pct   Comment percentage (overrides workload default)
  --follow-pct    Follow percentage (overrides workload default)
  --favorite-pct  Favorite percentage (overrides workload default)
  --view-pct      View percentage (overrides workload default)
  --verify        Check post counters against what was published (default: true)
  --verify-samples Number of posts to verify, 0 for all (default: 0)

Examples:
  pika run --workload=like-heavy --operations=1000000 --threads=16 --workers=8
  pika run --store=sqlite --write-mode=write_back --duration=30s`)
}

func runBenchmark(args []string) {
	cfg := &Config{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	var timeLimit time.Duration
	var verbose bool
	fs.DurationVar(&timeLimit, "time-limit", 0, "Maximum time to run (e.g., 30s, 1m)")
	fs.BoolVar(&verbose, "verbose", false, "Show engine logs")
	fs.StringVar(&cfg.Store, "store", "memory", "Durable counter store")
	fs.StringVar(&cfg.DataDir, "data-dir", "", "Data directory (default: temp dir)")
	fs.StringVar(&cfg.WriteMode, "write-mode", "write_through", "Counter write mode")
	fs.IntVar(&cfg.Workers, "workers", 4, "Engine worker count")
	fs.IntVar(&cfg.Capacity, "capacity", 1024, "Event queue capacity")
	fs.BoolVar(&cfg.Notify, "notify", false, "Enable the notification outbox")
	fs.StringVar(&cfg.Workload, "workload", "mixed", "Workload type")
	fs.IntVar(&cfg.Operations, "operations", 100000, "Total events to publish")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Duration to run (overrides --operations)")
	fs.IntVar(&cfg.Threads, "threads", 10, "Number of concurrent producers")
	fs.IntVar(&cfg.Users, "users", 1000, "Simulated users")
	fs.IntVar(&cfg.Posts, "posts", 100, "Simulated posts")
	fs.IntVar(&cfg.LikePct, "like-pct", -1, "Like percentage (overrides workload)")
	fs.IntVar(&cfg.UnlikePct, "unlike-pct", -1, "Unlike percentage (overrides workload)")
	fs.IntVar(&cfg.CommentPct, "comment-pct", -1, "Comment percentage (overrides workload)")
	fs.IntVar(&cfg.FollowPct, "follow-pct", -1, "Follow percentage (overrides workload)")
	fs.IntVar(&cfg.FavoritePct, "favorite-pct", -1, "Favorite percentage (overrides workload)")
	fs.IntVar(&cfg.ViewPct, "view-pct", -1, "View percentage (overrides workload)")
	fs.BoolVar(&cfg.Verify, "verify", true, "Check post counters after the run")
	fs.IntVar(&cfg.VerifySamples, "verify-samples", 0, "Number of posts to verify, 0 for all")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if verbose {
		log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.Nop()
	}

	if cfg.DataDir == "" {
		dir, err := os.MkdirTemp("", "pika-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		cfg.DataDir = dir
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if timeLimit > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeLimit)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, shutting down...")
		cancel()
	}()

	ok, err := executeRun(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Benchmark failed: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(2)
	}
}

// executeRun drives the engine and reports whether verification passed
func executeRun(ctx context.Context, cfg *Config) (bool, error) {
	dist := cfg.GetWorkloadDistribution()
	if err := dist.Validate(); err != nil {
		return false, err
	}

	eng, err := engine.New(ctx, engine.Options{Config: cfg.EngineConfig()})
	if err != nil {
		return false, err
	}
	if err := eng.Start(); err != nil {
		return false, err
	}
	defer eng.Stop(context.Background())

	fmt.Printf("Running %s workload: threads=%d workers=%d capacity=%d store=%s mode=%s\n",
		cfg.Workload, cfg.Threads, cfg.Workers, cfg.Capacity, cfg.Store, cfg.WriteMode)
	fmt.Printf("Distribution: like=%d%% unlike=%d%% comment=%d%% follow=%d%% favorite=%d%% view=%d%%\n",
		dist.Like, dist.Unlike, dist.Comment, dist.Follow, dist.Favorite, dist.View)

	runCtx := ctx
	var budget *atomic.Int64
	if cfg.Duration > 0 {
		var runCancel context.CancelFunc
		runCtx, runCancel = context.WithTimeout(ctx, cfg.Duration)
		defer runCancel()
	} else {
		budget = &atomic.Int64{}
		budget.Store(int64(cfg.Operations))
	}

	stats := NewStats()
	ledger := NewLedger()
	pop := Population{Users: cfg.Users, Posts: cfg.Posts}
	seed := time.Now().UnixNano()
	var comments atomic.Int64

	reportCtx, stopReport := context.WithCancel(ctx)
	go reportProgress(reportCtx, stats, eng)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Threads; i++ {
		wg.Add(1)
		go NewWorker(i, eng, pop, dist, stats, ledger, &comments, seed).Run(runCtx, budget, &wg)
	}
	wg.Wait()

	if err := waitDrained(ctx, eng, stats.TotalOps()); err != nil {
		stopReport()
		return false, err
	}
	elapsed := time.Since(start)
	stopReport()

	if _, err := eng.Reconcile(ctx); err != nil {
		return false, fmt.Errorf("reconcile: %w", err)
	}
	stats.PrintFinal(elapsed, eng.Stats())

	if !cfg.Verify {
		return true, nil
	}
	res, err := ledger.Verify(ctx, eng, cfg.VerifySamples)
	if err != nil {
		return false, err
	}
	res.Print()
	return len(res.Mismatches) == 0, nil
}

// waitDrained blocks until the engine has handled every published event
func waitDrained(ctx context.Context, eng *engine.Engine, published uint64) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		t := eng.Monitor().Snapshot().Totals
		if uint64(t.Processed+t.Failed) >= published {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
