package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"near-onramp/config"
	"near-onramp/pkg/provider"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <deposit-address>",
	Short: "Check the status of a swap",
	Long: `Check the execution status of an onramp swap by its deposit address.

Examples:
  near-onramp status 0x1234...abcd
  near-onramp status 0x1234...abcd --watch
  near-onramp status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates continuously")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) {
	depositAddress := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	// Create client
	apiClient := provider.NewClient(cfg.JWTToken)

	if watchStatus {
		watchSwapStatus(apiClient, depositAddress, jsonOutput)
	} else {
		checkSwapStatus(apiClient, depositAddress, jsonOutput)
	}
}

func checkSwapStatus(apiClient *provider.Client, depositAddress string, jsonOutput bool) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking swap status..."
		s.Start()
	}

	snapshot, err := apiClient.GetSwapStatus(depositAddress)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(snapshot, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayStatus(snapshot, depositAddress)
	}
}

func watchSwapStatus(apiClient *provider.Client, depositAddress string, jsonOutput bool) {
	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	fmt.Printf("\nWatching swap status (Deposit Address: %s)\n", color.CyanString(depositAddress))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	// Check immediately first
	checkAndDisplayStatus(apiClient, depositAddress)

	// Then check periodically
	for range ticker.C {
		checkAndDisplayStatus(apiClient, depositAddress)
	}
}

func checkAndDisplayStatus(apiClient *provider.Client, depositAddress string) {
	snapshot, err := apiClient.GetSwapStatus(depositAddress)
	if err != nil {
		color.Red("Error: %v", err)
		return
	}

	displayStatus(snapshot, depositAddress)
}

func displayStatus(snapshot *provider.StatusSnapshot, depositAddress string) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        SWAP STATUS")
	fmt.Println(strings.Repeat("=", 70))

	stage, _ := provider.MapStatus(snapshot.Status)

	fmt.Printf("\n  Deposit Address: %s\n", color.CyanString(depositAddress))
	fmt.Printf("  Status:          %s\n", getColoredStatus(string(snapshot.Status)))
	fmt.Printf("  Flow Stage:      %s\n", stage)
	fmt.Printf("  Last Updated:    %s\n", snapshot.UpdatedAt.Format("2006-01-02 15:04:05"))

	// Display origin chain transactions (deposits)
	for _, hash := range snapshot.OriginTxHashes {
		fmt.Printf("  Deposit Tx:      %s\n", color.HiBlackString(hash))
	}

	// Display destination chain transactions (withdrawals)
	for _, hash := range snapshot.DestTxHashes {
		fmt.Printf("  Withdrawal Tx:   %s\n", color.HiBlackString(hash))
	}

	// Display amounts if available
	if snapshot.AmountIn != "" {
		fmt.Printf("  Amount In:       %s\n", snapshot.AmountIn)
	}
	if snapshot.AmountOut != "" {
		fmt.Printf("  Amount Out:      %s\n", snapshot.AmountOut)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status string) string {
	status = strings.ToUpper(status)

	switch status {
	case "SUCCESS", "COMPLETED":
		return color.GreenString(status)
	case "PENDING_DEPOSIT", "KNOWN_DEPOSIT_TX", "PENDING", "PROCESSING":
		return color.YellowString(status)
	case "FAILED", "REFUNDED", "EXPIRED":
		return color.RedString(status)
	case "INCOMPLETE_DEPOSIT":
		return color.MagentaString(status)
	default:
		return status
	}
}
