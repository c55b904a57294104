package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/namsral/flag"
	"github.com/sirupsen/logrus"
	mimedb "gitlab.com/gitlab-org/go-mimedb"

	"github.com/0xkiire/coredumped/internal/logging"
	"github.com/0xkiire/coredumped/internal/site"
)

const shutdownTimeout = 10 * time.Second

var (
	listen        = flag.String("listen", ":8000", "Address to serve the site on")
	siteDir       = flag.String("site-dir", "site", "Built site directory")
	disableCORS   = flag.Bool("disable-cross-origin-requests", false, "Do not answer cross-origin requests")
	disableAccess = flag.Bool("disable-access-log", false, "Do not log requests")
	apiLimit      = flag.Float64("api-limit-per-second", 20, "Post API requests per second allowed per source IP, 0 to disable")
	apiBurst      = flag.Int("api-burst", 100, "Post API burst allowed per source IP")
	proxied       = flag.Bool("proxied", false, "Trust X-Forwarded-For for the source IP")
	logLevel      = flag.String("log-level", "info", "Log level")
	logFormat     = flag.String("log-format", "text", "Log format, text or json")
	verbose       = flag.Bool("verbose", false, "Trace logging, overrides -log-level")
)

func main() {
	flag.Parse()

	if err := logging.Configure(os.Stderr, *logLevel, *logFormat, *verbose); err != nil {
		logrus.Fatalf("Invalid log configuration: %v", err)
	}

	// posts are served as text/markdown
	if err := mimedb.LoadTypes(); err != nil {
		logrus.WithError(err).Warn("Loading extended MIME database failed")
	}

	if info, err := os.Stat(*siteDir); err != nil || !info.IsDir() {
		logrus.Fatalf("Site directory %s is not a directory", *siteDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context) error {
	srv := &http.Server{
		Addr: *listen,
		Handler: site.New(site.Options{
			Dir:                        *siteDir,
			DisableCrossOriginRequests: *disableCORS,
			DisableAccessLog:           *disableAccess,
			APILimitPerSecond:          *apiLimit,
			APIBurst:                   *apiBurst,
			Proxied:                    *proxied,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logrus.Infof("Serving %s on %s", *siteDir, *listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logrus.Info("Site server stopped")
	return nil
}
