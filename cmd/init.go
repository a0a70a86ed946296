package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spire-labs/poc-monorepo/crypto"
)

var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize config file, data directory and signing key",
	RunE:  initialize,
}

func initialize(cmd *cobra.Command, args []string) error {
	for _, dir := range []string{filepath.Join(rootDir, "config"), filepath.Join(rootDir, "data")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	keyFile := filepath.Join(rootDir, "config", "priv_key.hex")
	if _, err := os.Stat(keyFile); os.IsNotExist(err) && viper.GetString("PRIVATE_KEY") == "" {
		signer, err := crypto.GenerateSigner()
		if err != nil {
			return err
		}
		if err := ethcrypto.SaveECDSA(keyFile, signer.PrivateKey()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated key for %s\n", signer.Address().Hex())
		viper.Set("PRIVATE_KEY_FILE", keyFile)
	}

	if _, err := os.Stat(configFile()); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Config exists at %s\n", configFile())
		return nil
	}
	viper.Set("DB", filepath.Join(rootDir, "data"))
	if err := viper.WriteConfigAs(configFile()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configFile())
	return nil
}
