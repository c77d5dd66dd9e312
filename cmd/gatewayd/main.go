package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openfiesta/fiesta-gateway/internal/config"
	"github.com/openfiesta/fiesta-gateway/internal/gateway"
	"github.com/openfiesta/fiesta-gateway/internal/httpserver"
	"github.com/openfiesta/fiesta-gateway/internal/ledger"
	ledgerasync "github.com/openfiesta/fiesta-gateway/internal/ledger/async"
	ledgerpg "github.com/openfiesta/fiesta-gateway/internal/ledger/postgres"
	ledgersql "github.com/openfiesta/fiesta-gateway/internal/ledger/sqlite"
	"github.com/openfiesta/fiesta-gateway/internal/logging"
	"github.com/openfiesta/fiesta-gateway/internal/metrics"
	"github.com/openfiesta/fiesta-gateway/internal/openrouter"
	"github.com/openfiesta/fiesta-gateway/internal/policy"
	"github.com/openfiesta/fiesta-gateway/internal/version"
)

func main() {
	cfg, err := config.LoadGatewayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging, mirrored to stdout for foreground runs.
	const maxLogBytes = int64(300 * 1024 * 1024)
	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewWriter(target, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[gatewayd] ")
		defer rot.Close()
	}
	logger := log.Default()
	log.Printf("fiesta-gateway starting %s env=%s", version.FullInfo(), cfg.Environment)

	pol := policy.Default()
	if cfg.PolicyFile != "" {
		pol, err = policy.Load(cfg.PolicyFile)
		if err != nil {
			log.Fatalf("load policy file %s: %v", cfg.PolicyFile, err)
		}
		log.Printf("model policy loaded from %s", cfg.PolicyFile)
	}

	store, err := openLedger(cfg)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	asyncStore := ledgerasync.New(store, ledgerasync.Config{Logger: logger})
	defer asyncStore.Close()

	collector := metrics.NewCollector()

	client := openrouter.New(openrouter.Config{
		BaseURL: cfg.OpenRouterBaseURL,
		Referer: cfg.DefaultReferer,
		Title:   cfg.DefaultTitle,
	})

	gw := gateway.New(gateway.Config{
		Client:          client,
		Policy:          pol,
		SharedAPIKey:    cfg.OpenRouterAPIKey,
		UpstreamTimeout: cfg.UpstreamTimeout,
		HistoryWindow:   cfg.HistoryWindow,
		AttachmentClip:  cfg.AttachmentClip,
		Logger:          logger,
		Debug:           cfg.LogLevel == "debug",
	})

	srv := httpserver.New(gw, asyncStore, collector, logger, cfg.LogLevel)

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero: streamed responses are open-ended and the
		// per-attempt upstream timeout bounds each exchange instead.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	log.Printf("fiesta-gateway stopped")
}

// openLedger picks the ledger backend from the configured path: a PostgreSQL
// DSN selects the shared backend, anything else is a SQLite file.
func openLedger(cfg config.GatewayConfig) (ledger.Store, error) {
	if config.IsPostgresDSN(cfg.LedgerPath) {
		return ledgerpg.New(cfg.LedgerPath, ledgerpg.Config{})
	}
	return ledgersql.New(cfg.LedgerPath)
}
