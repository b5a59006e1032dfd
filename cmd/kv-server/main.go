// Command kv-server is the thin entrypoint binary: it loads typed
// configuration, constructs the core (storage, broker, service, TLS,
// server), starts serving, and waits for a shutdown signal — mirroring
// the teacher's main.go lifecycle (config load → construct → Start →
// signal-wait → Shutdown).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/kvmesh/internal/broker"
	"github.com/adred-codev/kvmesh/internal/config"
	"github.com/adred-codev/kvmesh/internal/frame"
	"github.com/adred-codev/kvmesh/internal/logging"
	"github.com/adred-codev/kvmesh/internal/metrics"
	"github.com/adred-codev/kvmesh/internal/server"
	"github.com/adred-codev/kvmesh/internal/service"
	"github.com/adred-codev/kvmesh/internal/storage"
	"github.com/adred-codev/kvmesh/internal/tlsconn"
)

func main() {
	dotenv := os.Getenv("KV_SERVER_CONFIG")
	cfg, err := config.LoadServerConfig(dotenv)
	if err != nil {
		os.Stderr.WriteString("kv-server: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging("kv-server"))
	cfg.LogConfig(logger)

	store, err := buildStorage(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage backend")
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var caPEM []byte
	if cfg.TLS.CAPEM != "" {
		caPEM = []byte(cfg.TLS.CAPEM)
	}
	acceptor, err := tlsconn.NewServerAcceptor([]byte(cfg.TLS.CertPEM), []byte(cfg.TLS.KeyPEM), caPEM)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build tls acceptor")
	}

	svc := service.NewBuilder().Build(store, broker.New())
	srv := server.New(cfg.General.Addr, acceptor, svc, logger, frame.CodecGzip)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serveMetrics(logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := srv.Serve(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
}

func buildStorage(cfg *config.ServerConfig) (storage.Storage, error) {
	switch cfg.Storage.Kind {
	case config.StorageDisk:
		return storage.OpenDiskKV(cfg.Storage.DiskPath)
	default:
		return storage.NewMemTable(), nil
	}
}

const metricsAddr = ":9090"

func serveMetrics(logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(metricsAddr, mux); err != nil {
		logger.Warn().Err(err).Msg("metrics endpoint stopped")
	}
}
