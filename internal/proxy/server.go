package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/0xkiire/coredumped/internal/config"
	"github.com/0xkiire/coredumped/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the offline asset cache over HTTP. Proxy requests for
// absolute URLs are intercepted as they are; plain requests are rewritten
// to the origin, so the blog can be browsed straight through the server.
type Server struct {
	config     *config.Config
	controller *worker.Controller
	origin     *url.URL
	proxy      *goproxy.ProxyHttpServer
}

// New creates a new proxy server handing every request to controller
func New(cfg *config.Config, controller *worker.Controller) (*Server, error) {
	origin, err := url.Parse(cfg.Worker.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if !origin.IsAbs() {
		return nil, fmt.Errorf("origin must be an absolute URL: %q", cfg.Worker.Origin)
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Logger = logrus.StandardLogger()
	proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)

	s := &Server{
		config:     cfg,
		controller: controller,
		origin:     origin,
		proxy:      proxy,
	}

	if cfg.Server.HTTPS.Mitm {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	proxy.OnRequest().DoFunc(s.handleRequest)
	proxy.NonproxyHandler = http.HandlerFunc(s.handleOriginRequest)

	return s, nil
}

// GetProxy returns the underlying goproxy server (for testing)
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Start serves the proxy, and the metrics endpoint when a metrics port is
// set, until ctx is done
func (s *Server) Start(ctx context.Context) error {
	servers := []*http.Server{{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}}

	if s.config.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", s.config.Server.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
		logrus.Infof("Serving metrics on port %d", s.config.Server.MetricsPort)
	}

	logrus.Infof("Starting offline cache proxy on port %d", s.config.Server.Port)
	logrus.Infof("Origin: %s", s.origin)
	logrus.Infof("Cache backend: %s", s.config.Cache.Backend)
	logrus.Infof("Cache version: %s", s.config.Worker.Version)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var result *multierror.Error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				result = multierror.Append(result, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		s.controller.Wait()
		logrus.Info("Proxy stopped")
		return result.ErrorOrNil()
	})

	return g.Wait()
}

func (s *Server) handleRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	resp, err := s.roundTrip(requ, requ.URL)
	if err != nil {
		logrus.Errorf("Failed to serve %s %s: %v", requ.Method, getTargetURL(requ), err)
		return requ, goproxy.NewResponse(requ, goproxy.ContentTypeText, http.StatusBadGateway, "Bad Gateway: "+err.Error())
	}

	logrus.Debugf("Served %s %s -> %d", requ.Method, getTargetURL(requ), resp.StatusCode)
	return requ, resp
}

// handleOriginRequest serves requests addressed to the server itself by
// fetching the same path from the origin
func (s *Server) handleOriginRequest(w http.ResponseWriter, requ *http.Request) {
	target := s.origin.ResolveReference(&url.URL{Path: requ.URL.Path, RawQuery: requ.URL.RawQuery})

	resp, err := s.roundTrip(requ, target)
	if err != nil {
		logrus.Errorf("Failed to serve %s %s: %v", requ.Method, target, err)
		http.Error(w, "Bad Gateway: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	logrus.Debugf("Served %s %s -> %d", requ.Method, target, resp.StatusCode)
	writeResponse(w, resp)
}

func (s *Server) roundTrip(requ *http.Request, target *url.URL) (*http.Response, error) {
	out, err := prepareRequest(requ, target)
	if err != nil {
		return nil, err
	}
	return s.controller.RoundTrip(out)
}
