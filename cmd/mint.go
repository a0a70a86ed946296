package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spire-labs/poc-monorepo/crypto"
	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/server"
)

var txFlags struct {
	ticker string
	amount uint16
	to     string
	nonce  uint32
	mint   bool

	enforcer string
	gateway  string
}

func init() {
	for _, c := range []*cobra.Command{MintCmd, SubmitCmd, GenesisCmd} {
		c.Flags().StringVar(&txFlags.ticker, "ticker", "", "token ticker")
		c.Flags().Uint16Var(&txFlags.amount, "amount", 0, "mint supply or transfer amount")
		c.Flags().StringVar(&txFlags.to, "to", "", "mint owner or transfer recipient (defaults to the signer)")
		c.Flags().Uint32Var(&txFlags.nonce, "nonce", 0, "sender nonce")
		_ = c.MarkFlagRequired("ticker")
	}
	MintCmd.Flags().StringVar(&txFlags.enforcer, "enforcer", "http://localhost:5555", "enforcer base url")
	SubmitCmd.Flags().StringVar(&txFlags.gateway, "gateway", "http://localhost:5433", "gateway base url")
	SubmitCmd.Flags().BoolVar(&txFlags.mint, "mint", false, "submit a mint instead of a transfer")
}

var MintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a ticker directly on an enforcer through apply_tx",
	RunE:  mint,
}

// signedTx builds and signs a mint or transfer from the configured key.
func signedTx(signer *crypto.Signer, mint bool) (messages.Transaction, []byte, error) {
	target := signer.Address()
	if txFlags.to != "" {
		if !common.IsHexAddress(txFlags.to) {
			return messages.Transaction{}, nil, fmt.Errorf("--to: %q is not an address", txFlags.to)
		}
		target = common.HexToAddress(txFlags.to)
	}
	var params messages.Params = messages.TransferParams{TokenTicker: txFlags.ticker, To: target, Amount: txFlags.amount}
	if mint {
		params = messages.MintParams{TokenTicker: txFlags.ticker, Owner: target, Supply: txFlags.amount}
	}
	content := messages.TransactionContent{From: signer.Address(), TxType: params.Type(), Params: params, Nonce: txFlags.nonce}
	enc, err := messages.EncodeContent(content)
	if err != nil {
		return messages.Transaction{}, nil, err
	}
	hash, err := messages.HashContent(content)
	if err != nil {
		return messages.Transaction{}, nil, err
	}
	sig, err := signer.SignHash(hash)
	if err != nil {
		return messages.Transaction{}, nil, err
	}
	return messages.Transaction{Content: content, Hash: hash, Signature: sig}, enc, nil
}

func mint(cmd *cobra.Command, args []string) error {
	signer, err := loadSigner()
	if err != nil {
		return err
	}
	contract, err := requireAddress("PRECONF_CONTRACT")
	if err != nil {
		return err
	}
	tx, enc, err := signedTx(signer, true)
	if err != nil {
		return err
	}
	priv := messages.PrivilegedTransaction{TxHash: tx.Hash, TxContent: enc, Signature: tx.Signature, PreconferContract: contract}
	client := server.NewClient(viper.GetDuration("HTTP_TIMEOUT"))
	if err := client.ApplyTransaction(context.Background(), txFlags.enforcer, priv); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", tx.Hash.Hex())
	return nil
}

var SubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Request a preconfirmation from the gateway",
	RunE:  submit,
}

func submit(cmd *cobra.Command, args []string) error {
	signer, err := loadSigner()
	if err != nil {
		return err
	}
	tx, enc, err := signedTx(signer, txFlags.mint)
	if err != nil {
		return err
	}
	gateway := server.NewGatewayClient(txFlags.gateway, viper.GetDuration("HTTP_TIMEOUT"))
	commitment, err := gateway.SubmitPreconfirmation(context.Background(),
		messages.SubmitPreconfirmation{TxContent: enc, TxHash: tx.Hash, Signature: tx.Signature})
	if err != nil {
		return err
	}
	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	return out.Encode(commitment)
}
