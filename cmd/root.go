package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var rootCmd = &cobra.Command{
	Use:   "cctp-bridge",
	Short: "A CLI for moving USDC between Solana and Aptos with Circle CCTP",
	Long: `cctp-bridge burns USDC on the source chain, waits for finality and
Circle's attestation, then mints the same amount on the destination chain.
Failed transfers print a recovery link that picks up where the burn left off.

Examples:
  cctp-bridge transfer 10 USDC from solana to aptos --recipient 0xabc...
  cctp-bridge status 5xBurnSignature --source solana --watch
  cctp-bridge recover "https://bridge.example/recover?signature=...&sourceDomain=5&finalRecipient=0xabc..."
  cctp-bridge history`,
	Version: "0.1.0",
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

// newLogger builds the diagnostic logger. Logs go to stderr so they never mix
// with --json output.
func newLogger(level string, verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}
