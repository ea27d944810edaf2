package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cctp-bridge/pkg/history"
	"cctp-bridge/pkg/types"
)

var (
	statusSource  string
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <burn-tx>",
	Short: "Check the finality and attestation of a burn",
	Long: `Check whether a burn transaction is final on its chain and whether Circle
has attested it yet.

Examples:
  cctp-bridge status 5xBurn... --source solana
  cctp-bridge status 0xburn... --source aptos --watch
  cctp-bridge status 5xBurn... --source solana --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusSource, "source", "", "Source chain of the burn (defaults to the one in history)")
	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates until the attestation is ready")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

// burnStatus is one look at a burn on chain and at the attestation service
type burnStatus struct {
	TransactionID string                   `json:"transaction_id"`
	SourceDomain  types.Domain             `json:"source_domain"`
	Chain         types.ConfirmationStatus `json:"chain"`
	Attestation   types.AttestationRecord  `json:"attestation"`
	Transfer      *history.Record          `json:"transfer,omitempty"`
	CheckedAt     time.Time                `json:"checked_at"`
}

func runStatus(cmd *cobra.Command, args []string) {
	burnTx := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.logger.Sync()

	record, _ := a.storage.FindByBurn(burnTx)
	source, err := statusDomain(record)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchStatus {
		watchBurnStatus(ctx, a, source, burnTx, jsonOutput)
		return
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking burn status..."
		s.Start()
	}
	st, err := checkBurnStatus(ctx, a, source, burnTx)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayBurnStatus(st)
	}
}

func statusDomain(record *history.Record) (types.Domain, error) {
	if statusSource != "" {
		return types.ParseDomain(statusSource)
	}
	if record != nil {
		return record.SourceDomain, nil
	}
	return 0, fmt.Errorf("unknown burn. Pass --source solana or --source aptos")
}

func checkBurnStatus(ctx context.Context, a *app, source types.Domain, burnTx string) (*burnStatus, error) {
	client, err := a.chains.Get(source)
	if err != nil {
		return nil, err
	}

	// Normalised to the form the attestation service indexes
	burnTx, err = client.AttestationID(ctx, burnTx)
	if err != nil {
		return nil, err
	}

	chainStatus, err := client.GetTransactionStatus(ctx, burnTx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up burn on %s: %w", source, err)
	}

	st := &burnStatus{
		TransactionID: burnTx,
		SourceDomain:  source,
		Chain:         chainStatus,
		CheckedAt:     time.Now(),
	}

	// The attestation only exists once the burn is final
	if chainStatus.Kind == types.ConfirmationConfirmed {
		st.Attestation, err = a.iris.FetchAttestation(ctx, source, burnTx)
		if err != nil {
			a.logger.Debug("attestation lookup failed", zap.String("tx", burnTx), zap.Error(err))
		}
	} else {
		st.Attestation = types.AttestationRecord{Domain: source, TransactionID: burnTx, Status: types.AttestationNotFound}
	}

	if record, err := a.storage.FindByBurn(burnTx); err == nil {
		st.Transfer = record
	}
	return st, nil
}

func watchBurnStatus(ctx context.Context, a *app, source types.Domain, burnTx string, jsonOutput bool) {
	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	fmt.Printf("\nWatching burn %s on %s\n", color.CyanString(burnTx), source)
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	// Check immediately first
	for {
		st, err := checkBurnStatus(ctx, a, source, burnTx)
		if err != nil {
			color.Red("Error: %v", err)
		} else {
			displayBurnStatus(st)
			if st.Attestation.Ready() || st.Chain.Kind == types.ConfirmationFailed {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func displayBurnStatus(st *burnStatus) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                         BURN STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Burn Tx:         %s\n", color.CyanString(st.TransactionID))
	fmt.Printf("  Source:          %s (CCTP domain %d)\n", st.SourceDomain, uint32(st.SourceDomain))
	fmt.Printf("  Finality:        %s\n", coloredConfirmation(st.Chain))
	fmt.Printf("  Attestation:     %s\n", coloredAttestation(st.Attestation.Status))
	if st.Attestation.EventNonce != "" {
		fmt.Printf("  Nonce:           %s\n", st.Attestation.EventNonce)
	}
	if st.Attestation.Reason != "" {
		fmt.Printf("  Detail:          %s\n", color.HiBlackString(st.Attestation.Reason))
	}

	if t := st.Transfer; t != nil {
		fmt.Printf("\n  Transfer:        %s (%s)\n", t.ID, t.Route())
		fmt.Printf("  Stage:           %s\n", t.Stage)
		if t.MintTx != "" {
			fmt.Printf("  Mint Tx:         %s\n", color.CyanString(t.MintTx))
		}
		if t.RecoveryURL != "" && t.Status != history.StatusCompleted {
			fmt.Printf("  Recovery:        %s\n", color.CyanString(t.RecoveryURL))
		}
	}

	fmt.Printf("  Checked At:      %s\n", st.CheckedAt.Format("2006-01-02 15:04:05"))
	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func coloredConfirmation(s types.ConfirmationStatus) string {
	switch s.Kind {
	case types.ConfirmationConfirmed:
		return color.GreenString("FINAL")
	case types.ConfirmationPending:
		return color.YellowString("PENDING")
	case types.ConfirmationFailed:
		return color.RedString("FAILED: %s", s.Reason)
	default:
		return strings.ToUpper(string(s.Kind))
	}
}

func coloredAttestation(status types.AttestationStatus) string {
	label := strings.ToUpper(string(status))
	switch status {
	case types.AttestationReady:
		return color.GreenString(label)
	case types.AttestationPending, types.AttestationNotFound:
		return color.YellowString(label)
	case types.AttestationError:
		return color.RedString(label)
	default:
		return label
	}
}
