package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spire-labs/poc-monorepo/messages"
)

var genesisFile string

func init() {
	GenesisCmd.Flags().StringVar(&genesisFile, "file", "genesis.json", "appchain genesis file to extend")
}

// GenesisCmd appends a signed mint to an appchain genesis file. The
// proposer applies the file on an empty replica.
var GenesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Add a signed mint to an appchain genesis file",
	RunE:  addGenesisMint,
}

func readGenesis(path string) ([]messages.Transaction, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var txs []messages.Transaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return txs, nil
}

func addGenesisMint(cmd *cobra.Command, args []string) error {
	signer, err := loadSigner()
	if err != nil {
		return err
	}
	txs, err := readGenesis(genesisFile)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("nonce") {
		// next nonce of the signer within this genesis
		txFlags.nonce = 0
		for _, tx := range txs {
			if tx.Content.From == signer.Address() {
				txFlags.nonce++
			}
		}
	}
	tx, _, err := signedTx(signer, true)
	if err != nil {
		return err
	}
	txs = append(txs, tx)
	raw, err := json.MarshalIndent(txs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(genesisFile, raw, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s mint of %d to %s\n", txFlags.ticker, txFlags.amount, genesisFile)
	return nil
}
