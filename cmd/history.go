package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cctp-bridge/pkg/history"
)

var historyStatusFilter string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past transfers",
	Long: `Display transfers recorded on this machine, newest first.

Examples:
  cctp-bridge history
  cctp-bridge history --status failed
  cctp-bridge history view <transfer-id|burn-tx>`,
	Args: cobra.NoArgs,
	Run:  runHistoryList,
}

var historyViewCmd = &cobra.Command{
	Use:   "view <transfer-id|burn-tx>",
	Short: "View details of a transfer",
	Args:  cobra.ExactArgs(1),
	Run:   runHistoryView,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyViewCmd)

	historyCmd.Flags().StringVar(&historyStatusFilter, "status", "", "Filter by status (in_progress, completed, failed)")
}

func runHistoryList(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	var records []*history.Record
	if historyStatusFilter != "" {
		records = a.storage.ListByStatus(history.Status(historyStatusFilter))
	} else {
		records = a.storage.List()
	}

	if jsonOutput {
		output, _ := json.MarshalIndent(records, "", "  ")
		fmt.Println(string(output))
		return
	}

	if len(records) == 0 {
		color.Yellow("No transfers found.\n")
		fmt.Println("\nStart one with:")
		color.Cyan("  cctp-bridge transfer 10 USDC from solana to aptos\n")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 110))
	color.Green("                                              TRANSFERS")
	fmt.Println(strings.Repeat("=", 110))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nCREATED\tROUTE\tAMOUNT\tSTAGE\tSTATUS\tBURN TX")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Created.Format("2006-01-02 15:04"), r.Route(), r.Amount, r.Stage,
			getTransferStatusColor(r.Status), truncateString(r.BurnTx, 24))
	}

	w.Flush()
	fmt.Println("\n" + strings.Repeat("=", 110) + "\n")
}

func runHistoryView(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	r, err := a.storage.Get(args[0])
	if errors.Is(err, history.ErrNotFound) {
		r, err = a.storage.FindByBurn(args[0])
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		output, _ := json.MarshalIndent(r, "", "  ")
		fmt.Println(string(output))
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        TRANSFER DETAILS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  ID:                %s\n", color.CyanString(r.ID))
	fmt.Printf("  Status:            %s\n", getTransferStatusColor(r.Status))
	fmt.Printf("  Stage:             %s\n", r.Stage)
	fmt.Printf("  Created:           %s\n", r.Created.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Last Updated:      %s\n", r.LastUpdated.Format("2006-01-02 15:04:05"))

	fmt.Printf("\n  Route:             %s\n", r.Route())
	if r.Amount != "" {
		fmt.Printf("  Amount:            %s USDC\n", r.Amount)
	}
	fmt.Printf("  Recipient:         %s\n", r.Recipient)

	if r.BurnTx != "" {
		fmt.Printf("\n  Burn Tx:           %s\n", color.CyanString(r.BurnTx))
	}
	if r.MintTx != "" {
		fmt.Printf("  Mint Tx:           %s\n", color.CyanString(r.MintTx))
		if r.AlreadyMinted {
			fmt.Printf("                     %s\n", color.HiBlackString("(minted by an earlier attempt)"))
		}
	}

	if len(r.Attempts) > 0 {
		fmt.Printf("\n  Retries:\n")
		stages := make([]string, 0, len(r.Attempts))
		for stage := range r.Attempts {
			stages = append(stages, stage)
		}
		sort.Strings(stages)
		for _, stage := range stages {
			fmt.Printf("    %-22s %d\n", stage+":", r.Attempts[stage])
		}
	}

	if r.Status == history.StatusFailed {
		fmt.Printf("\n  Failed At:         %s\n", r.FailedStage)
		fmt.Printf("  Error Kind:        %s\n", r.ErrorKind)
		fmt.Printf("  Error:             %s\n", color.RedString(r.Error))
		if r.RecoveryURL != "" {
			fmt.Printf("  Recovery:          %s\n", color.CyanString(r.RecoveryURL))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getTransferStatusColor(status history.Status) string {
	switch status {
	case history.StatusCompleted:
		return color.GreenString(string(status))
	case history.StatusInProgress:
		return color.YellowString(string(status))
	case history.StatusFailed:
		return color.RedString(string(status))
	default:
		return string(status)
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
