package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pointsledger/config"
	"pointsledger/core/events"
	"pointsledger/core/state"
	"pointsledger/core/types"
	"pointsledger/integrations/webhooks"
	"pointsledger/native/points"
	"pointsledger/observability/logging"
	"pointsledger/observability/metrics"
	"pointsledger/observability/otel"
	"pointsledger/rpc"
	"pointsledger/storage"
)

const (
	envName     = "POINTS_ENV"
	rpcTokenEnv = "POINTS_RPC_TOKEN"
)

// logEmitter mirrors every ledger event into the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (e logEmitter) Emit(evt events.Event) {
	type attributed interface {
		Event() *types.Event
	}
	if generic, ok := evt.(attributed); ok {
		payload := generic.Event()
		e.logger.Info("ledger event",
			slog.String("type", payload.Type),
			slog.Any("attributes", payload.Attributes))
		return
	}
	e.logger.Info("ledger event", slog.String("type", evt.EventType()))
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	switch backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "pointsledger.db"))
	case "leveldb":
		return storage.NewLevelDB(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envName))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var logger *slog.Logger
	if cfg.LogFile != "" {
		out := logging.RotatingOutput(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups, 0)
		logger = logging.SetupWithOutput("pointsd", env, out)
	} else {
		logger = logging.Setup("pointsd", env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "pointsd",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	db, err := openDatabase(cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)
	ledger := points.NewLedger(manager)
	ledger.SetObserverResolver(points.NewObserverRegistry())

	emitters := events.MultiEmitter{logEmitter{logger: logger}}
	if cfg.Webhook.Endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(
			cfg.Webhook.Endpoint,
			[]byte(cfg.Webhook.Secret),
			webhooks.WithFailureHook(metrics.Points().ObserveWebhookFailure),
		)
		if err != nil {
			logger.Error("Failed to start webhook dispatcher", slog.Any("error", err))
			os.Exit(1)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}
	ledger.SetEmitter(emitters)

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Error("Metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	server := rpc.NewServer(ledger, os.Getenv(rpcTokenEnv))
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("RPC shutdown failed", slog.Any("error", err))
		}
	}()

	logger.Info("starting JSON-RPC server", slog.String("addr", cfg.RPCAddress))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("RPC server failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("pointsd stopped")
}
