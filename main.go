package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/evanofslack/cloudflare-ddns/internal/config"
	"github.com/evanofslack/cloudflare-ddns/internal/history"
	"github.com/evanofslack/cloudflare-ddns/internal/logger"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
	"github.com/evanofslack/cloudflare-ddns/internal/provider/cloudflare"
	"github.com/evanofslack/cloudflare-ddns/internal/publicip"
	"github.com/evanofslack/cloudflare-ddns/internal/reconcile"
)

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "path to the configuration file (.toml or .yaml)")
	showHistory := pflag.Bool("history", false, "print the recorded IP changes and exit")
	pflag.Parse()

	// plain logger until the configured one is available
	logger.Configure(os.Stdout, "info", "dev")

	cfg, err := config.Load(*configPath)
	if errors.Is(err, config.ErrDefaultCreated) {
		slog.Warn("No configuration found", "path", *configPath)
		fatal(err)
	}
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}

	logger.Configure(os.Stdout, cfg.Log.Level, cfg.Log.Env)

	metrics := metrics.New(true)

	if *showHistory {
		if err := printHistory(cfg.HistoryPath, metrics); err != nil {
			fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, metrics)
	stop()
	if err != nil {
		fatal(err)
	}
	slog.Info("Service shutdown complete")
}

// run builds the service and blocks until ctx is done. Everything it opens is
// closed again before it returns.
func run(ctx context.Context, cfg *config.Config, m *metrics.Metrics) error {
	cf, err := cloudflare.New(cfg, m)
	if err != nil {
		return fmt.Errorf("initialize DNS provider: %w", err)
	}

	resolver := publicip.New(cfg.IPServices,
		publicip.WithTimeout(cfg.RequestTimeout()),
		publicip.WithMetrics(m),
	)

	var journal history.Journal
	if cfg.HistoryPath != "" {
		journal, err = history.Open(cfg.HistoryPath, m)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer journal.Close()
	}

	engine := reconcile.NewEngine(cf, resolver, journal, cfg, m)

	if server := startServer(cfg.MetricsAddr, m); server != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("Metrics server shutdown error", "error", err)
			}
		}()
	}

	slog.Info("Starting cloudflare-ddns", "domain", cfg.DomainName, "record", cfg.RecordName)
	err = engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startServer serves metrics and a health check in the background. It returns
// nil when no listen address is configured.
func startServer(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Starting metrics server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return server
}

func printHistory(path string, m *metrics.Metrics) error {
	if path == "" {
		return errors.New("history_path is not configured")
	}
	journal, err := history.Open(path, m)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer journal.Close()

	entries, err := journal.Entries(context.Background())
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No IP changes recorded")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %s  %s -> %s\n", e.Time.Format(time.RFC3339), e.Record, e.Previous, e.Address)
	}
	return nil
}

// fatal logs err and exits. When attached to a terminal it waits for the user
// first so the message stays visible in a window that would otherwise close.
func fatal(err error) {
	slog.Error("Fatal error", "error", err)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("Press return to exit.")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	}
	os.Exit(1)
}
