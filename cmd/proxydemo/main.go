// Command proxydemo builds inventory proxies over every target source kind
// and drives a concurrent reservation workload through them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/kbukum/proxykit/autoproxy"
	"github.com/kbukum/proxykit/config"
	"github.com/kbukum/proxykit/logger"
	"github.com/kbukum/proxykit/observability"
	"github.com/kbukum/proxykit/transform"
	"github.com/kbukum/proxykit/version"
)

type options struct {
	configFile string
	envFile    string
	workers    int
	calls      int
	showVer    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "proxydemo:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var opts options
	fs := flag.NewFlagSet("proxydemo", flag.ContinueOnError)
	fs.StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML config file")
	fs.StringVar(&opts.envFile, "env-file", "", "Path to a .env file")
	fs.IntVarP(&opts.workers, "workers", "w", 8, "Concurrent workers")
	fs.IntVarP(&opts.calls, "calls", "n", 50, "Calls per worker and definition")
	fs.BoolVar(&opts.showVer, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.showVer {
		fmt.Println(version.Banner("proxydemo"))
		return nil
	}

	var loadOpts []config.LoaderOption
	if opts.configFile != "" {
		loadOpts = append(loadOpts, config.WithConfigFile(opts.configFile))
	}
	if opts.envFile != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(opts.envFile))
	}
	cfg, err := config.Load(loadOpts...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.New(&cfg.Logging, cfg.Name)
	logger.SetGlobalLogger(log)
	info := version.Get()
	log.Info("starting", logger.Fields("version", info.String(), "environment", cfg.Environment))

	metrics, shutdownTelemetry, err := setupTelemetry(ctx, cfg, info.Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("telemetry shutdown failed", logger.Fields(logger.FieldError, err.Error()))
		}
	}()

	factory := &warehouseFactory{seed: map[string]int{"sku-1": 1000, "sku-2": 1000}}
	creator := autoproxy.FromConfig(cfg, factory, log, metrics,
		autoproxy.WithExceptionWrapping(transform.AnyFailure, transform.DefaultCarrier))

	runErr := runWorkload(ctx, creator, cfg, opts, log)

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := creator.Shutdown(sctx)

	log.Info("finished", logger.Fields(
		"created", factory.created.Load(),
		"destroyed", factory.destroyed.Load(),
	))
	return errors.Join(runErr, shutdownErr)
}

// setupTelemetry installs OTLP exporters when enabled, and falls back to
// noop instruments otherwise.
func setupTelemetry(ctx context.Context, cfg config.Config, ver string) (*observability.Metrics, func(context.Context) error, error) {
	if !cfg.Telemetry.Enabled {
		m, err := observability.NewMetrics(noop.NewMeterProvider().Meter(cfg.Name))
		return m, func(context.Context) error { return nil }, err
	}

	tc := observability.DefaultTracerConfig(cfg.Name)
	tc.ServiceVersion = ver
	tc.Environment = cfg.Environment
	tc.Endpoint = cfg.Telemetry.Endpoint
	tc.Insecure = cfg.Telemetry.Insecure
	tc.SampleRate = cfg.Telemetry.SampleRate
	tp, err := observability.InitTracer(ctx, tc)
	if err != nil {
		return nil, nil, err
	}

	mc := observability.DefaultMeterConfig(cfg.Name)
	mc.ServiceVersion = ver
	mc.Environment = cfg.Environment
	mc.Endpoint = cfg.Telemetry.Endpoint
	mc.Insecure = cfg.Telemetry.Insecure
	mc.Interval = cfg.Telemetry.Interval
	mp, err := observability.InitMeter(ctx, mc)
	if err != nil {
		return nil, nil, errors.Join(err, tp.Shutdown(ctx))
	}

	m, err := observability.NewMetrics(mp.Meter(cfg.Name))
	if err != nil {
		return nil, nil, errors.Join(err, mp.Shutdown(ctx), tp.Shutdown(ctx))
	}
	return m, func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
