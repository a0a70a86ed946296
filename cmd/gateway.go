package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spire-labs/poc-monorepo/app"
	"github.com/spire-labs/poc-monorepo/chain"
	"github.com/spire-labs/poc-monorepo/modules"
	"github.com/spire-labs/poc-monorepo/server"
	"github.com/spire-labs/poc-monorepo/store"
)

var GatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the gateway",
	RunE:  runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadGatewayConfig()
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
	ctx, stop := signalContext()
	defer stop()

	var st app.GatewayStore
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, keeping gateway state in memory")
		st = store.NewMemoryStore()
	} else {
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := store.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		st = pg
	}

	client, err := chain.Dial(ctx, cfg.Provider, nil, cfg.ChainID, logger.With("module", "chain"))
	if err != nil {
		return err
	}
	gateway := app.NewGateway(
		logger.With("module", "gateway"),
		cfg.Gateway,
		st,
		chain.Election{Client: client, Address: cfg.Election},
		server.NewClient(viper.GetDuration("HTTP_TIMEOUT")),
		client,
		signer,
		modules.NewCounter(cfg.BlockNum, 2),
		modules.NewCounter(cfg.Nonce, 1),
	)
	logger.Info("Starting gateway", "address", signer.Address().Hex(), "block", cfg.BlockNum)
	return serve(ctx, cfg.Port, server.NewGatewayRouter(gateway, logger.With("module", "api")), logger)
}
