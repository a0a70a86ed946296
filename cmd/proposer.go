package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	tendermint "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/log"
	dbm "github.com/tendermint/tm-db"

	"github.com/spire-labs/poc-monorepo/app"
	"github.com/spire-labs/poc-monorepo/chain"
	"github.com/spire-labs/poc-monorepo/modules"
)

var ProposerCmd = &cobra.Command{
	Use:   "proposer",
	Short: "Replay settled validity conditions and propose appchain blocks",
	RunE:  runProposer,
}

func runProposer(cmd *cobra.Command, args []string) error {
	cfg, err := loadProposerConfig()
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
	db, err := openDB("proposer")
	if err != nil {
		return err
	}
	defer db.Close()
	ctx, stop := signalContext()
	defer stop()

	start := uint32(viper.GetUint64("PROPOSER_START_BLOCK"))
	appA, err := newAppchain("A", db, cfg.GenesisA, logger)
	if err != nil {
		return err
	}
	appB, err := newAppchain("B", db, cfg.GenesisB, logger)
	if err != nil {
		return err
	}

	client, err := chain.Dial(ctx, cfg.Provider, signer, cfg.ChainID, logger.With("module", "chain"))
	if err != nil {
		return err
	}
	proposer := app.NewProposer(
		logger.With("module", "proposer"),
		client,
		signer,
		app.NewRollup(appA, cfg.SlashingA, cfg.RollupA, start),
		app.NewRollup(appB, cfg.SlashingB, cfg.RollupB, start),
		cfg.Bridge,
		cfg.BlockTime,
	)
	if err := proposer.Start(); err != nil {
		return err
	}
	logger.Info("Started proposer", "address", signer.Address().Hex(), "start", start)
	<-ctx.Done()
	return proposer.Stop()
}

// newAppchain gives each appchain its own key space in db and applies its
// genesis file, if any, on an empty replica.
func newAppchain(name string, db dbm.DB, genesis string, logger log.Logger) (*app.Appchain, error) {
	ledger := modules.NewLedger(dbm.NewPrefixDB(db, []byte("appchain/"+name+"/")))
	appchain := app.NewAppchain(name, ledger, logger.With("module", "appchain"))
	if genesis == "" {
		return appchain, nil
	}
	state, err := ledger.State()
	if err != nil {
		return nil, err
	}
	if len(state.Tickers) > 0 {
		return appchain, nil
	}
	raw, err := os.ReadFile(genesis)
	if err != nil {
		return nil, fmt.Errorf("genesis %s: %w", name, err)
	}
	if err := initChain(appchain, raw); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", name, err)
	}
	return appchain, nil
}

func initChain(appchain *app.Appchain, state []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	appchain.InitChain(tendermint.RequestInitChain{ChainId: appchain.Name, AppStateBytes: state})
	return nil
}
