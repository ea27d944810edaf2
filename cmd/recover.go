package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"cctp-bridge/pkg/bridge"
	"cctp-bridge/pkg/types"
)

var (
	recoverSignature string
	recoverSource    string
	recoverRecipient string
)

var recoverCmd = &cobra.Command{
	Use:   "recover [recovery-link]",
	Short: "Finish a transfer whose burn already landed",
	Long: `Resume a failed transfer at the attestation wait and mint on the destination chain.

Pass the recovery link printed by a failed transfer, or describe the burn with
flags. When the recipient is omitted it is taken from the local transfer history.

Examples:
  cctp-bridge recover "https://bridge.example/recover?signature=5xBurn...&sourceDomain=5&finalRecipient=0xabc..."
  cctp-bridge recover --signature 5xBurn... --source solana --recipient 0xabc...
  cctp-bridge recover --signature 0xburn... --source aptos`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)

	recoverCmd.Flags().StringVar(&recoverSignature, "signature", "", "Burn transaction id on the source chain")
	recoverCmd.Flags().StringVar(&recoverSource, "source", "", "Source chain of the burn (solana, aptos or a CCTP domain id)")
	recoverCmd.Flags().StringVar(&recoverRecipient, "recipient", "", "Recipient address on the destination chain")
	recoverCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
	recoverCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the mint runs")
}

func runRecover(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.logger.Sync()

	link, err := recoveryLinkFromArgs(a, args)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if err := a.cfg.ValidateRecovery(link.SourceDomain); err != nil {
		printError(err)
		os.Exit(1)
	}

	interactive := !noConfirm && !jsonOutput
	if !jsonOutput {
		fmt.Printf("\nRecovering %s burn %s\n", link.SourceDomain, color.CyanString(link.BurnTransactionID))
		fmt.Printf("Minting on %s to %s\n\n", link.SourceDomain.Counterpart(), color.CyanString(link.DestinationRecipient))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := bridge.NewMetrics(reg)
	shutdown := a.serveMetrics(metricsAddr, reg)
	defer shutdown()

	r := newRenderer(jsonOutput)
	o := a.newOrchestrator(r, metrics, interactive)

	state, runErr := o.Resume(ctx, link)
	r.stop()

	ok := finish(state, runErr, o.Reporter().Entries(), a.cfg.ManualMintURL, jsonOutput)
	shutdown()
	if !ok {
		os.Exit(1)
	}
}

// recoveryLinkFromArgs reads the link from the positional URL or the flags,
// filling the recipient from history when it is missing
func recoveryLinkFromArgs(a *app, args []string) (bridge.RecoveryLink, error) {
	if len(args) == 1 {
		return bridge.ParseRecoveryLink(args[0])
	}

	if recoverSignature == "" || recoverSource == "" {
		return bridge.RecoveryLink{}, fmt.Errorf("pass a recovery link or both --signature and --source")
	}
	source, err := types.ParseDomain(recoverSource)
	if err != nil {
		return bridge.RecoveryLink{}, err
	}

	link := bridge.RecoveryLink{
		BurnTransactionID:    recoverSignature,
		SourceDomain:         source,
		DestinationRecipient: recoverRecipient,
	}
	if link.DestinationRecipient == "" {
		record, err := a.storage.FindByBurn(recoverSignature)
		if err != nil {
			return bridge.RecoveryLink{}, fmt.Errorf("no recipient given and %w. Pass --recipient", err)
		}
		link.DestinationRecipient = record.Recipient
	}

	return link, link.Validate()
}
