package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "near-onramp",
	Short: "A fiat-to-crypto onramp built on the NEAR Intents 1Click API",
	Long: `near-onramp runs the onramp popup service and drives onramp flows
against the NEAR Intents 1Click API. The popup service hosts sessions and
the swap flow; the start command plays the embedder side end to end.

Examples:
  near-onramp serve
  near-onramp start --chain near --asset wNEAR
  near-onramp status <deposit-address> --watch`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
