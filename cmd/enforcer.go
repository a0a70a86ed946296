package cmd

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/spire-labs/poc-monorepo/app"
	"github.com/spire-labs/poc-monorepo/chain"
	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/modules"
	"github.com/spire-labs/poc-monorepo/server"
)

var EnforcerCmd = &cobra.Command{
	Use:   "enforcer",
	Short: "Run an enforcer with its settlement batcher",
	RunE:  runEnforcer,
}

func runEnforcer(cmd *cobra.Command, args []string) error {
	cfg, err := loadEnforcerConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	signer, err := loadSigner()
	if err != nil {
		return err
	}
	db, err := openDB("enforcer")
	if err != nil {
		return err
	}
	defer db.Close()
	ctx, stop := signalContext()
	defer stop()

	client, err := chain.Dial(ctx, cfg.Provider, signer, cfg.ChainID, logger.With("module", "chain"))
	if err != nil {
		return err
	}
	conditions := modules.NewValidityConditions()
	enforcer := app.NewEnforcer(
		logger.With("module", "enforcer"),
		modules.NewLedger(db),
		conditions,
		modules.NewCounter(cfg.BlockNum, 2),
		signer,
		cfg.BlockSource,
	)
	batcher := app.NewBatcher(logger.With("module", "batcher"), conditions, client, cfg.BlockTime, cfg.Heartbeat)
	if err := batcher.Start(); err != nil {
		return err
	}
	defer func() {
		if err := batcher.Stop(); err != nil {
			logger.Error("Failed to stop batcher", "err", err)
		}
	}()

	if cfg.Register {
		meta := messages.EnforcerMetadata{Name: cfg.Meta.Name, URL: cfg.Meta.URL, PreconfContracts: []common.Address{cfg.PreconferContract}}
		gateway := server.NewGatewayClient(cfg.GatewayURL, viper.GetDuration("HTTP_TIMEOUT"))
		go register(ctx, enforcer, gateway, meta, cfg.RegisterDelay, logger)
	}

	logger.Info("Starting enforcer", "address", signer.Address().Hex(), "block", cfg.BlockNum, "source", cfg.BlockSource)
	return serve(ctx, cfg.Port, server.NewEnforcerRouter(enforcer, logger.With("module", "api")), logger)
}

// register waits for the API to come up, then announces the enforcer to the
// gateway, retrying every delay until it succeeds or ctx ends.
func register(ctx context.Context, enforcer *app.Enforcer, gateway app.GatewayClient,
	meta messages.EnforcerMetadata, delay time.Duration, logger log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		err := enforcer.Register(ctx, gateway, meta)
		if err == nil {
			return
		}
		logger.Error("Registration failed", "err", err)
	}
}
