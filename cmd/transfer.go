package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"cctp-bridge/pkg/bridge"
	"cctp-bridge/pkg/parser"
	"cctp-bridge/pkg/status"
	"cctp-bridge/pkg/types"
)

var (
	transferRecipient string
	noConfirm         bool
	metricsAddr       string
)

var transferCmd = &cobra.Command{
	Use:   "transfer <amount> USDC from <chain> to <chain>",
	Short: "Move USDC between Solana and Aptos",
	Long: `Burn USDC on the source chain and mint it on the destination chain using Circle CCTP.

The transfer waits for the burn to finalize and for Circle to attest it, which
usually takes a few minutes. If anything fails after the burn, a recovery link
is printed so the mint can be finished later with 'cctp-bridge recover'.

Examples:
  # Solana to Aptos, minted to the configured Aptos account
  cctp-bridge transfer 10 USDC from solana to aptos

  # Aptos to Solana with an explicit recipient
  cctp-bridge transfer 2.5 USDC from aptos to solana --recipient 7xKX...

  # Skip confirmations and expose Prometheus metrics
  cctp-bridge transfer 100 USDC from solana to aptos --yes --metrics-addr :9090`,
	Args: cobra.MinimumNArgs(1),
	Run:  runTransfer,
}

func init() {
	rootCmd.AddCommand(transferCmd)

	transferCmd.Flags().StringVar(&transferRecipient, "recipient", "", "Recipient address on the destination chain (defaults to the configured account)")
	transferCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
	transferCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the transfer runs")
}

func runTransfer(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	// Parse the command
	parsed, err := parser.ParseTransferCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if transferRecipient != "" {
		parsed.Recipient = transferRecipient
	}

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.logger.Sync()

	if err := a.cfg.ValidateRoute(parsed.SourceDomain, parsed.DestinationDomain); err != nil {
		printError(err)
		os.Exit(1)
	}

	req := parsed.Request(a.address(parsed.DestinationDomain))
	req.SourceSigner = a.address(parsed.SourceDomain)
	req.DestinationSigner = a.address(parsed.DestinationDomain)
	if req.DestinationRecipient == "" {
		printError(fmt.Errorf("no recipient on %s. Pass --recipient or configure a %s key", req.DestinationDomain, req.DestinationDomain))
		os.Exit(1)
	}
	if err := req.Validate(); err != nil {
		printError(err)
		os.Exit(1)
	}

	interactive := !noConfirm && !jsonOutput
	if !jsonOutput {
		displayTransfer(req)
	}
	if interactive && !confirm("Proceed with transfer?") {
		fmt.Println("\nTransfer cancelled.")
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := bridge.NewMetrics(reg)
	shutdown := a.serveMetrics(metricsAddr, reg)
	defer shutdown()

	r := newRenderer(jsonOutput)
	o := a.newOrchestrator(r, metrics, interactive)

	state, runErr := o.Run(ctx, req)
	r.stop()

	ok := finish(state, runErr, o.Reporter().Entries(), a.cfg.ManualMintURL, jsonOutput)
	shutdown()
	if !ok {
		os.Exit(1)
	}
}

// finish prints the outcome and reports whether the transfer succeeded
func finish(state bridge.TransferState, err error, log []status.Entry, manualMintURL string, jsonOutput bool) bool {
	out := newOutcome(state, err, log, manualMintURL)
	if jsonOutput {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
	} else {
		displayOutcome(out)
	}
	return err == nil
}

func displayTransfer(req types.TransferRequest) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        USDC TRANSFER")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Amount:          %s USDC\n", color.YellowString(req.Amount.String()))
	fmt.Printf("  From:            %s (CCTP domain %d)\n", req.SourceDomain, uint32(req.SourceDomain))
	fmt.Printf("  To:              %s (CCTP domain %d)\n", req.DestinationDomain, uint32(req.DestinationDomain))
	if req.SourceSigner != "" {
		fmt.Printf("  Burn From:       %s\n", req.SourceSigner)
	}
	fmt.Printf("  Recipient:       %s\n", color.CyanString(req.DestinationRecipient))

	fmt.Println("\n" + strings.Repeat("=", 70))
}
