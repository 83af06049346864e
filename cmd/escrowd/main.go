package main

import (
	"context"
	"flag"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/opencause/escrow/clients/evm"
	"github.com/opencause/escrow/clients/signer"
	"github.com/opencause/escrow/clients/solana"
	"github.com/opencause/escrow/clients/utxo"
	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/db"
	"github.com/opencause/escrow/handlers"
	"github.com/opencause/escrow/http"
	"github.com/opencause/escrow/logging"
	"github.com/opencause/escrow/scanners"
	"github.com/opencause/escrow/services"
)

func main() {
	flags := parseFlags()
	log := logging.New(os.Stdout, flags.LogLevel, flags.LogJSON)

	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	database, err := db.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := database.InitDB(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database schema")
	}

	networkScanners, err := createScanners(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create network scanners")
	}

	metricsService := services.NewMetricsService()

	executors, err := createExecutors(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create payout executors")
	}
	withdrawalService := services.NewWithdrawalService(database, cfg, executors, metricsService, log)

	watcher := services.NewIntentWatcher(database, networkScanners, cfg, metricsService, log)
	watcher.Start(ctx)

	tracker := services.NewConfirmationTracker(database, networkScanners, cfg, metricsService, log)
	tracker.Start(ctx)

	reconciler := services.NewStatsReconciler(database, cfg.StatsReconcileCron, metricsService, log)
	if err := reconciler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start stats reconciler")
	}

	server := handlers.NewServer(database, cfg, networkScanners, withdrawalService, metricsService, log)
	serverShutdown := http.StartAsync(&nethttp.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info().Msg("Shutdown signal received, cleaning up services...")

	// Stop ingress first so no new work arrives while the loops drain.
	serverShutdown(ctx)

	watcher.Stop()
	tracker.Stop()
	reconciler.Stop()

	log.Info().Msg("All services shut down successfully")
}

// createScanners builds one deposit scanner per enabled network. EVM networks
// are dialed concurrently; a network that cannot be reached at startup is a
// fatal configuration error.
func createScanners(ctx context.Context, cfg *config.Config, log zerolog.Logger) (map[string]scanners.Scanner, error) {
	networkScanners := make(map[string]scanners.Scanner, len(cfg.Networks))

	evmClients, err := evm.ResolveClients(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	for id, client := range evmClients {
		networkScanners[id] = scanners.NewEVMScanner(client, log)
	}

	for id, network := range cfg.Networks {
		switch network.Type {
		case config.NetworkTypeEVM:
			// Already resolved above.
		case config.NetworkTypeUTXO:
			networkScanners[id] = scanners.NewUTXOScanner(utxo.New(network, log), log)
		case config.NetworkTypeSolana:
			client, err := solana.New(ctx, network, log)
			if err != nil {
				return nil, err
			}
			networkScanners[id] = scanners.NewSolanaScanner(client, log)
		}
	}

	return networkScanners, nil
}

// createExecutors wires the per-family payout executors to the external
// signing service. Without a signer URL no executors are registered and every
// execution attempt fails terminally, which keeps funds untouched.
func createExecutors(cfg *config.Config, log zerolog.Logger) (map[string]services.Executor, error) {
	if cfg.SignerURL == "" {
		log.Warn().Msg("SIGNER_URL not set, withdrawal execution disabled")
		return map[string]services.Executor{}, nil
	}

	signingClient := signer.New(cfg.SignerURL, log)

	evmExecutor, err := services.NewEVMExecutor(signingClient)
	if err != nil {
		return nil, err
	}

	return map[string]services.Executor{
		string(config.NetworkTypeEVM):    evmExecutor,
		string(config.NetworkTypeUTXO):   services.NewUTXOExecutor(signingClient),
		string(config.NetworkTypeSolana): services.NewSolanaExecutor(signingClient),
	}, nil
}

type flagSet struct {
	LogJSON  bool
	LogLevel zerolog.Level
}

func parseFlags() flagSet {
	var (
		logJSON  bool
		logLevel string
	)

	flag.BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")
	flag.StringVar(&logLevel, "log-level", "info", "Set log level (debug, info, warn, error)")

	flag.Parse()

	parsed := zerolog.InfoLevel
	switch logLevel {
	case "debug":
		parsed = zerolog.DebugLevel
	case "warn":
		parsed = zerolog.WarnLevel
	case "error":
		parsed = zerolog.ErrorLevel
	}

	return flagSet{
		LogJSON:  logJSON,
		LogLevel: parsed,
	}
}
