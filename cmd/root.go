package cmd

import (
	"github.com/spf13/cobra"
)

var rootDir string

func init() {
	RootCmd.AddCommand(InitCmd)
	RootCmd.AddCommand(GatewayCmd)
	RootCmd.AddCommand(EnforcerCmd)
	RootCmd.AddCommand(ProposerCmd)
	RootCmd.AddCommand(MintCmd)
	RootCmd.AddCommand(SubmitCmd)
	RootCmd.AddCommand(GenesisCmd)
	RootCmd.PersistentFlags().StringVar(&rootDir, "home", "./preconf", "Home directory holding config and data")
}

var RootCmd = cobra.Command{
	Use:          "preconf",
	Short:        "Appchain preconfirmation services",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}
