package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"poolbase/config"
	"poolbase/core/events"
	"poolbase/core/settlement"
	"poolbase/native/fees"
	"poolbase/native/pool"
	"poolbase/observability"
	"poolbase/observability/logging"
	"poolbase/rpc"
	"poolbase/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("POOLBASE_ENV"))
	logger := logging.Setup("poold", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if cfg.Log.File != "" {
		logger = logging.SetupWithFile("poold", env, logging.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	creator := cfg.CreatorAddress()
	poolID := pool.DeriveAddress(creator, cfg.Pool.Nonce)

	journal, err := settlement.NewJournal(db, poolID, logger)
	if err != nil {
		logger.Error("Failed to open settlement journal", slog.Any("error", err))
		os.Exit(1)
	}

	feeManager, err := fees.NewManager(
		journal,
		cfg.TeamAddresses(),
		config.Wei(cfg.Fees.MinTeamFeePerEther),
		config.Wei(cfg.Fees.MaxTeamFeePerEther),
	)
	if err != nil {
		logger.Error("Failed to construct fee manager", slog.Any("error", err))
		os.Exit(1)
	}

	engine, err := pool.NewEngine(pool.Config{
		Address:             poolID,
		Creator:             creator,
		Admins:              cfg.AdminAddresses(),
		FeeService:          feeManager,
		Ether:               journal,
		Tokens:              journal,
		CreatorFeesPerEther: config.Wei(cfg.Pool.CreatorFeesPerEther),
		Limits: pool.Limits{
			MinContribution: config.Wei(cfg.Pool.MinContribution),
			MaxContribution: config.Wei(cfg.Pool.MaxContribution),
			MaxPoolBalance:  config.Wei(cfg.Pool.MaxPoolBalance),
		},
		Restricted:             cfg.Pool.Restricted,
		TotalTokenDrops:        cfg.Pool.TotalTokenDrops,
		AutoDistributionWallet: autoDistributionWallet(cfg),
	})
	if err != nil {
		logger.Error("Failed to construct pool engine", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetEmitter(events.LogEmitter{Logger: logger})

	store := storage.NewPoolStore(db)
	if err := restoreLedger(engine, store, poolID); err != nil {
		logger.Error("Failed to restore pool ledger", slog.Any("error", err))
		os.Exit(1)
	}

	observability.PoolMetrics().SetLedger(
		poolID.Hex(),
		uint8(engine.Status()),
		engine.PoolContributionBalance(),
		engine.HeldBalance(),
		engine.TotalContributors(),
	)
	logger.Info("pool ledger ready",
		"pool", poolID.Hex(),
		"status", engine.Status().String(),
		"contributors", engine.TotalContributors(),
	)

	server := rpc.NewServer(engine, feeManager, store, poolID, cfg.RPC.RequestsPerMinute, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func restoreLedger(engine *pool.Engine, store *storage.PoolStore, poolID common.Address) error {
	snap, err := store.Load(poolID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return engine.RestoreSnapshot(snap)
}

func autoDistributionWallet(cfg *config.Config) common.Address {
	value := strings.TrimSpace(cfg.Pool.AutoDistributionWallet)
	if value == "" {
		return common.Address{}
	}
	return common.HexToAddress(value)
}
