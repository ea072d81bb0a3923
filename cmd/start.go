package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"near-onramp/config"
	"near-onramp/internal/popup"
	"near-onramp/pkg/onramp"
)

var (
	startChain       string
	startAsset       string
	startRecipient   string
	startAmount      string
	startSourceToken string
	startSourceChain string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run an onramp flow against a running popup service",
	Long: `Play the embedder side of an onramp flow: open a session on the
popup service, hand over the flow parameters, submit the form and wait for
the terminal result.

Examples:
  near-onramp start --chain near --asset wNEAR --recipient alice.near --amount 10
  near-onramp start --chain near --asset wNEAR --recipient alice.near --amount 10 --source-token USDC --source-chain eth`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringVar(&startChain, "chain", "near", "Destination chain")
	startCmd.Flags().StringVar(&startAsset, "asset", "wNEAR", "Destination asset symbol")
	startCmd.Flags().StringVar(&startRecipient, "recipient", "", "Recipient address on the destination chain")
	startCmd.Flags().StringVar(&startAmount, "amount", "", "Amount to onramp, in source token units")
	startCmd.Flags().StringVar(&startSourceToken, "source-token", "USDC", "Source token symbol")
	startCmd.Flags().StringVar(&startSourceChain, "source-chain", "eth", "Source chain")
	_ = startCmd.MarkFlagRequired("recipient")
	_ = startCmd.MarkFlagRequired("amount")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	sessionID := uuid.NewString()
	var submitOnce sync.Once

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Waiting for the flow to complete..."
	}

	client, err := onramp.New(onramp.Config{
		PopupBaseURL:        cfg.PopupBaseURL,
		SDKOrigin:           cfg.SDKOrigin,
		Production:          cfg.Production(),
		ClosedCheckInterval: cfg.ClosedCheckInterval,
		OnStepChanged: func(step string, retrying bool) {
			if !jsonOutput {
				if retrying {
					color.Yellow("  step: %s (retrying)", step)
				} else {
					color.Cyan("  step: %s", step)
				}
			}
			// The popup has no UI here; the form is submitted on its
			// behalf as soon as the flow asks for it.
			if step == "connect-wallet" || step == "form-entry" {
				submitOnce.Do(func() { go submitFlowForm(cfg, sessionID) })
			}
		},
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if !jsonOutput {
		fmt.Printf("\nStarting onramp flow (Session: %s)\n\n", color.CyanString(sessionID))
		s.Start()
	}

	result, err := client.StartFlow(context.Background(), onramp.FlowParams{
		SessionID: sessionID,
		Chain:     startChain,
		Asset:     startAsset,
	})
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}

	printSuccess(fmt.Sprintf("Onramp complete: %s %s to %s on %s",
		color.GreenString(result.Amount), result.Asset, color.CyanString(result.Recipient), result.Network))
	return nil
}

// submitFlowForm plays the popup UI: it posts the form to the session's
// submit endpoint once the flow is ready for it.
func submitFlowForm(cfg *config.Config, sessionID string) {
	body, err := json.Marshal(popup.FormInput{
		SourceToken: startSourceToken,
		SourceChain: startSourceChain,
		Recipient:   startRecipient,
		Amount:      startAmount,
	})
	if err != nil {
		color.Red("Error: %v", err)
		return
	}

	url := fmt.Sprintf("%s/sessions/%s/submit", cfg.PopupBaseURL, sessionID)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		color.Red("Error: form submission failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		color.Red("Error: form rejected (status %d): %s", resp.StatusCode, apiErr.Message)
	}
}
