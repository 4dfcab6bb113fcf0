package main

import (
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/application/settlement"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/application/watcher"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/application/workflow"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/infrastructure/database"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/infrastructure/identity"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/infrastructure/notifier"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/infrastructure/rpc"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/infrastructure/wallet"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/repositories/attemptrepo"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/server"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/server/websocket"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.NewWithConfig(logger.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: cfg.Logging.TimeFormat,
		Pretty:     cfg.Logging.Pretty,
	})

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.ShutDown()

	evmClient, err := rpc.NewEVMClient(cfg.Ledger, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ledger RPC")
	}
	defer evmClient.Close()

	walletProvider := wallet.NewBridgeClient(cfg.WalletAPI, log)
	strategy, err := settlement.New(cfg.Settlement, walletProvider, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build settlement strategy")
	}

	attemptRepo := attemptrepo.New(db, log)
	txWatcher := watcher.New(evmClient, cfg.Ledger, log)
	provisioningNotifier := notifier.NewTelegramNotifier(cfg.Notifier, log)
	identityLookup := identity.NewSubdomainLookup(cfg, log)
	wsHub := websocket.NewWsHub(log)

	workflowSvc, err := workflow.New(
		strategy,
		txWatcher,
		provisioningNotifier,
		identityLookup,
		attemptRepo,
		wsHub,
		cfg.Settlement,
		cfg.Ledger,
		log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build workflow service")
	}

	srv := server.New(cfg, workflowSvc, log, wsHub)
	srv.Start()
}
