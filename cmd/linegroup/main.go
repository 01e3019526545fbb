package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"linegroup/internal/config"
	"linegroup/internal/metrics"
	"linegroup/internal/metrics/datadog"
	"linegroup/internal/metrics/prompush"
	"linegroup/internal/pipeline"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "linegroup/internal/storage/all"
)

const usageLine = "usage: linegroup [flags] <input-file>"

// runner is the part of *pipeline.Runner the CLI depends on.
type runner interface {
	Run(ctx context.Context, cfg config.Run) (pipeline.Summary, error)
}

// appDeps holds the side-effecting seams of runMain.
type appDeps struct {
	loadEnv     func(filenames ...string) error
	readFile    func(path string) ([]byte, error)
	unmarshal   func(data []byte, v any) error
	initMetrics func(ctx context.Context, jobName, backendName, pushURL string) (func(), error)
	newRunner   func(logger pipeline.Logger) runner
}

func defaultDeps() appDeps {
	return appDeps{
		loadEnv:     godotenv.Load,
		readFile:    os.ReadFile,
		unmarshal:   json.Unmarshal,
		initMetrics: initMetrics,
		newRunner: func(logger pipeline.Logger) runner {
			return pipeline.NewDefaultRunner(logger)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain parses args, builds the run config and executes one run.
//
// Exit codes: 0 success, 1 failure, 2 usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	flags := flag.NewFlagSet("linegroup", flag.ContinueOnError)
	flags.SetOutput(stderr)

	var (
		cfgPath        = flags.String("config", "", "optional run config JSON path")
		envPath        = flags.String("env", ".env", "dotenv file loaded before the run (ignored if missing unless set explicitly)")
		format         = flags.String("format", "", "report format: text or html (default text)")
		encoding       = flags.String("encoding", "", "input charset, e.g. utf-8, windows-1251 (default utf-8)")
		outPath        = flags.String("out", "", "report path (default result.<ext> next to the input)")
		storageKind    = flags.String("storage", "", "store groups in a database: sqlite, postgres or mssql")
		dsn            = flags.String("dsn", "", "storage DSN; $VARS are expanded")
		table          = flags.String("table", "", "storage table name (default line_groups)")
		metricsBackend = flags.String("metrics-backend", "", "metrics backend: none, pushgateway or datadog (overrides env METRICS_BACKEND)")
		pushURL        = flags.String("pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
		validate       = flags.Bool("validate", false, "validate the configuration and exit")
		verbose        = flags.Bool("v", false, "enable verbose logs")
	)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() > 1 {
		fmt.Fprintln(stderr, usageLine)
		return 2
	}

	explicit := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if err := deps.loadEnv(*envPath); err != nil {
		if explicit["env"] || !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(stderr, "load env: %v\n", err)
			return 1
		}
	}

	var cfg config.Run
	if strings.TrimSpace(*cfgPath) != "" {
		raw, err := deps.readFile(*cfgPath)
		if err != nil {
			fmt.Fprintf(stderr, "read config: %v\n", err)
			return 1
		}
		if err := deps.unmarshal(raw, &cfg); err != nil {
			fmt.Fprintf(stderr, "parse config: %v\n", err)
			return 1
		}
	}

	// Flags override the config file.
	if flags.NArg() == 1 {
		cfg.Source.Path = flags.Arg(0)
	}
	if *encoding != "" {
		if cfg.Source.Options == nil {
			cfg.Source.Options = config.Options{}
		}
		cfg.Source.Options["encoding"] = *encoding
	}
	if *format != "" {
		cfg.Output.Format = *format
	}
	if *outPath != "" {
		cfg.Output.Path = *outPath
	}
	if *storageKind != "" {
		cfg.Storage.Kind = *storageKind
	}
	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}
	if *table != "" {
		cfg.Storage.Table = *table
	}

	if !*validate && strings.TrimSpace(cfg.Source.Path) == "" {
		fmt.Fprintln(stderr, usageLine)
		return 2
	}

	cfg = config.ApplyDefaults(cfg)
	issues := config.ValidateRun(cfg)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return 1
	}
	if *validate {
		fmt.Fprintln(stdout, "ok")
		return 0
	}

	cleanup, err := deps.initMetrics(ctx, cfg.Job,
		firstNonEmpty(*metricsBackend, os.Getenv("METRICS_BACKEND"), "none"),
		firstNonEmpty(*pushURL, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091"))
	if err != nil {
		cleanup()
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	var logger pipeline.Logger
	if *verbose {
		logger = log.New(stderr, "", log.LstdFlags)
	}

	sum, err := deps.newRunner(logger).Run(ctx, cfg)
	code := 0
	switch {
	case err == nil:
		if logger != nil {
			logger.Printf("run_id=%s output=%s groups=%d multi=%d stored=%d",
				sum.RunID, sum.Output, sum.Groups, sum.MultiCount, sum.Stored)
		}
	case errors.Is(err, pipeline.ErrRead):
		fmt.Fprintf(stdout, "Ошибка чтения файла: %v\n", err)
		code = 1
	case errors.Is(err, pipeline.ErrWrite):
		fmt.Fprintf(stdout, "Ошибка записи файла: %v\n", err)
		code = 1
	default:
		fmt.Fprintf(stderr, "run: %v\n", err)
		code = 1
	}

	fmt.Fprintf(stdout, "Время работы (сек) = %d\n", int64(sum.Elapsed/time.Second))
	return code
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// ---- metrics wiring ----

// metricsBackend is a backend that owns a background flush loop.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	newPushBackend = func(opts prompush.Options) (metrics.Backend, error) {
		b, err := prompush.New(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

// initMetrics installs the named backend. The returned cleanup is never nil
// and flushes the backend; it is safe to call even when err != nil.
func initMetrics(ctx context.Context, jobName, backendName, pushURL string) (func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return noop, nil

	case "pushgateway", "prometheus", "prom":
		b, err := newPushBackend(prompush.Options{URL: pushURL, JobName: jobName})
		if err != nil {
			return noop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	case "datadog", "dd":
		// Submits every FlushEvery and once more on Close.
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", backendName)
	}
}
