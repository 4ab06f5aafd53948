package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/apiscope/internal/api"
	"github.com/dgnsrekt/apiscope/internal/capture"
	"github.com/dgnsrekt/apiscope/internal/controller"
	"github.com/dgnsrekt/apiscope/internal/describe"
	"github.com/dgnsrekt/apiscope/internal/gateway"
	"github.com/dgnsrekt/apiscope/internal/metrics"
	"github.com/dgnsrekt/apiscope/internal/netutil"
	"github.com/dgnsrekt/apiscope/internal/relay"
	"github.com/dgnsrekt/apiscope/internal/storage"
	"github.com/dgnsrekt/apiscope/internal/telemetry"
	"github.com/dgnsrekt/apiscope/internal/tunnel"
	"github.com/dgnsrekt/apiscope/internal/types"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("apiscope config loaded",
		"bind_addr", cfg.BindAddr,
		"tunnel_bind_addr", cfg.TunnelBindAddr,
		"public_url", cfg.PublicURL,
		"db_path", cfg.DBPath,
		"archive", cfg.Archive,
		"allow_private", cfg.AllowPrivate,
		"policy_file", cfg.PolicyFile,
		"log_level", cfg.LogLevel,
	)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    "apiscope",
		ServiceVersion: version,
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	pol, err := cfg.Policy()
	if err != nil {
		return err
	}
	store, err := storage.NewBoltStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("database close failed", "error", err)
		}
	}()

	m := metrics.New()
	broker := relay.NewBroker()
	feed := relay.NewFeed(broker)

	observers := []func(*types.CapturedCall){feed.PublishCall}
	var archive *storage.CallArchive
	if cfg.Archive {
		archive = storage.NewCallArchive(cfg.DataDir, cfg.BufferSize, cfg.MaxFileSizeMB)
		observers = append(observers, archive.Archive)
	}
	sink := capture.NewAsyncSink(store, cfg.BufferSize, m, observers...)
	rec := capture.NewRecorder(cfg.Limits, sink, m)
	guard := capture.NewGuard(cfg.IngressRate, cfg.IngressBurst, cfg.DedupSize, cfg.DedupWindow())

	gwCfg := gateway.DefaultConfig()
	gwCfg.TunnelURL = cfg.TunnelPublicURL
	gwCfg.LogEndpoint = cfg.LogEndpoint()
	gwCfg.Timeout = cfg.UpstreamTimeout()
	gw := gateway.New(store, pol, rec, m, gwCfg)
	tun := tunnel.New(store, pol, rec, feed, m, tunnel.DefaultConfig())

	svc := controller.NewService(store, pol, controller.Options{
		Recorder:  rec,
		Guard:     guard,
		Archive:   archive,
		Describer: describe.New(cfg.DescribeURL, cfg.DescribeTimeout(), nil),
		Metrics:   m,
		MaxCalls:  cfg.AnalysisMaxCalls,
	})
	h := api.NewServer(svc, api.Options{
		Version:           version,
		Gateway:           gw,
		Broker:            broker,
		Metrics:           m,
		RetainDocsHistory: cfg.DocsRetainHistory,
	})

	apiLn, err := netutil.Listen(cfg.BindAddr, cfg.PortAutoFallback)
	if err != nil {
		return err
	}
	tunnelLn, err := netutil.Listen(cfg.TunnelBindAddr, cfg.PortAutoFallback)
	if err != nil {
		_ = apiLn.Close()
		return err
	}
	warnFallback(cfg.BindAddr, apiLn, "APISCOPE_PUBLIC_URL")
	warnFallback(cfg.TunnelBindAddr, tunnelLn, "APISCOPE_TUNNEL_PUBLIC_URL")

	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	tunnelSrv := &http.Server{Handler: tun.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		addr := apiLn.Addr().String()
		slog.Info("apiscope listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(apiLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		slog.Info("tunnel listening", "addr", tunnelLn.Addr().String(), "path", tunnel.Path)
		if err := tunnelSrv.Serve(tunnelLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("tunnel server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case runErr = <-errCh:
		slog.Error("listener failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked tunnel connections are not tracked by http.Server, so the
	// listener stops first and the registry closes what is left.
	if err := tunnelSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("tunnel shutdown failed", "error", err)
	}
	tun.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("api shutdown failed", "error", err)
		_ = srv.Close()
	}
	if err := sink.Close(); err != nil {
		slog.Error("capture sink close failed", "error", err)
	}
	if archive != nil {
		if err := archive.Close(); err != nil {
			slog.Error("archive close failed", "error", err)
		}
	}
	return runErr
}

func warnFallback(preferred string, ln net.Listener, publicVar string) {
	_, want, _ := net.SplitHostPort(preferred)
	_, got, _ := net.SplitHostPort(ln.Addr().String())
	if want != got && want != "0" {
		slog.Warn("preferred port in use, bound a fallback", "preferred", preferred,
			"addr", ln.Addr().String(), "public_url_var", publicVar)
	}
}
