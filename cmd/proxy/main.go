package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/namsral/flag"
	"github.com/sirupsen/logrus"

	"github.com/0xkiire/coredumped/internal/cache"
	"github.com/0xkiire/coredumped/internal/cache/httpcache"
	"github.com/0xkiire/coredumped/internal/config"
	"github.com/0xkiire/coredumped/internal/httptransport"
	"github.com/0xkiire/coredumped/internal/logging"
	"github.com/0xkiire/coredumped/internal/metrics"
	"github.com/0xkiire/coredumped/internal/proxy"
	"github.com/0xkiire/coredumped/internal/worker"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to the YAML configuration file, empty for defaults")
	verbose    = flag.Bool("verbose", false, "Trace logging, overrides log.level")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.Configure(os.Stderr, cfg.Log.Level, cfg.Log.Format, *verbose); err != nil {
		logrus.Fatalf("Invalid log configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	backend, err := cache.New(cfg)
	if err != nil {
		return err
	}
	if err := backend.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize %s cache: %w", cfg.Cache.Backend, err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logrus.Errorf("Failed to close cache: %v", err)
		}
	}()

	server, err := setup(ctx, cfg, backend)
	if err != nil {
		return err
	}

	return server.Start(ctx)
}

// setup wires the network, the cache storage and the worker for the
// configured version. A failed install is logged and requests pass
// through to the network until a later version installs.
func setup(ctx context.Context, cfg *config.Config, backend cache.GenericCache) (*proxy.Server, error) {
	timeout, err := cfg.GetNetworkTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid network timeout: %w", err)
	}

	network := httptransport.NewMeteredRoundTripper(
		httptransport.NewTransport(),
		"origin",
		metrics.NetworkTrace,
		metrics.NetworkDuration,
		metrics.NetworkRequests,
		timeout,
	)

	classifier, err := worker.ClassifierFromConfig(cfg.Worker.Rules)
	if err != nil {
		return nil, err
	}

	opts, err := worker.OptionsFromConfig(cfg.Worker)
	if err != nil {
		return nil, err
	}

	w, err := worker.New(opts, httpcache.New(backend), network, classifier)
	if err != nil {
		return nil, err
	}

	controller := worker.NewController(network)
	if err := controller.Register(ctx, w); err != nil {
		if errors.Is(err, worker.ErrInstallFailed) {
			logrus.Errorf("Version %s is not active: %v", cfg.Worker.Version, err)
		} else {
			logrus.Warnf("Version %s activated with errors: %v", cfg.Worker.Version, err)
		}
	}

	return proxy.New(cfg, controller)
}
