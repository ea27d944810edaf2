package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cctp-bridge/config"
	"cctp-bridge/pkg/attestation"
	"cctp-bridge/pkg/bridge"
	"cctp-bridge/pkg/chain"
	"cctp-bridge/pkg/history"
	"cctp-bridge/pkg/relay"
	"cctp-bridge/pkg/status"
	"cctp-bridge/pkg/types"
)

// app holds the collaborators shared by every command
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	chains  chain.Registry
	signers map[types.Domain]types.Signer
	iris    *attestation.Client
	storage *history.Storage
}

func newApp(cmd *cobra.Command) (*app, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel, verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	solanaClient, err := chain.NewSolanaClient(cfg.Solana, logger)
	if err != nil {
		return nil, err
	}
	aptosClient, err := chain.NewAptosClient(cfg.Aptos, logger)
	if err != nil {
		return nil, err
	}

	signers := make(map[types.Domain]types.Signer)
	if cfg.Solana.PrivateKey != "" {
		signer, err := chain.NewSolanaKeySigner(cfg.Solana.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid Solana private key: %w", err)
		}
		signers[types.DomainSolana] = signer
	}
	if cfg.Aptos.PrivateKey != "" {
		signer, err := chain.NewAptosKeySigner(cfg.Aptos.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid Aptos private key: %w", err)
		}
		signers[types.DomainAptos] = signer
	}

	storage, err := history.NewStorage(cfg.HistoryFile)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		chains:  chain.NewRegistry(solanaClient, aptosClient),
		signers: signers,
		iris:    attestation.NewClient(attestation.Config{BaseURL: cfg.AttestationURL}, logger),
		storage: storage,
	}, nil
}

// address returns the configured account on domain, or ""
func (a *app) address(domain types.Domain) string {
	if signer, ok := a.signers[domain]; ok {
		return signer.Address()
	}
	return ""
}

// newOrchestrator wires a single-use orchestrator. With prompt set, every
// signature needs an explicit yes on the terminal.
func (a *app) newOrchestrator(r *renderer, metrics *bridge.Metrics, prompt bool) *bridge.Orchestrator {
	var signers []types.Signer
	for _, signer := range a.signers {
		if prompt {
			signer = &promptSigner{Signer: signer, renderer: r}
		}
		signers = append(signers, signer)
	}

	minters := map[types.Domain]bridge.Minter{
		types.DomainAptos: bridge.NewDirectMinter(a.chains, a.logger),
	}
	if a.cfg.MintEndpoint != "" {
		minters[types.DomainSolana] = bridge.NewRelayMinter(
			relay.NewClient(a.cfg.MintEndpoint, a.logger), bridge.DefaultRelayPolicy(), a.logger)
	}

	reporter := status.NewReporter()
	reporter.OnChange(r.OnChange)

	return bridge.New(bridge.Dependencies{
		Chains:       a.chains,
		Sessions:     chain.NewStaticSessions(signers...),
		Attestations: a.iris,
		Minters:      minters,
		Lookup:       a.storage,
		Reporter:     reporter,
		Logger:       a.logger,
	}, bridge.Config{
		ConfirmationAttempts: a.cfg.Polling.ConfirmationAttempts,
		ConfirmationInterval: a.cfg.Polling.ConfirmationInterval,
		ConfirmationRounds:   a.cfg.Polling.ConfirmationRounds,
		AttestationPolicy:    a.cfg.Polling.AttestationPolicy,
		ManualMintURL:        a.cfg.ManualMintURL,
	},
		bridge.WithListener(metrics),
		bridge.WithListener(history.NewRecorder(a.storage, a.cfg.ManualMintURL, a.logger)),
	)
}

// serveMetrics exposes reg on addr until the returned func is called
func (a *app) serveMetrics(addr string, reg *prometheus.Registry) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// renderer turns action log changes into spinner frames and result lines
type renderer struct {
	mu      sync.Mutex
	spinner *spinner.Spinner
	quiet   bool
}

func newRenderer(quiet bool) *renderer {
	return &renderer{
		spinner: spinner.New(spinner.CharSets[14], 100*time.Millisecond),
		quiet:   quiet,
	}
}

// OnChange renders one action log entry
func (r *renderer) OnChange(e status.Entry) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Status {
	case status.StatusPending:
		r.spinner.Lock()
		r.spinner.Suffix = " " + e.Message
		r.spinner.Unlock()
		if !r.spinner.Active() {
			r.spinner.Start()
		}
		return
	case status.StatusSuccess:
		r.spinner.Stop()
		line := color.GreenString("✓ ") + e.Message
		if e.Duration != nil {
			line += color.HiBlackString(" (%s)", e.Duration.Round(time.Second))
		}
		fmt.Println(line)
	case status.StatusError:
		r.spinner.Stop()
		fmt.Println(color.RedString("✗ ") + e.Message)
	}
	if e.Link != "" {
		fmt.Printf("    %s\n", color.CyanString(e.Link))
	}
}

// pause stops the spinner so the terminal can be used. The returned func
// restarts it if it was running.
func (r *renderer) pause() func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasActive := r.spinner.Active()
	r.spinner.Stop()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if wasActive {
			r.spinner.Start()
		}
	}
}

func (r *renderer) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spinner.Stop()
}

var stdin = bufio.NewReader(os.Stdin)

// promptSigner asks on the terminal before every signature
type promptSigner struct {
	types.Signer
	renderer *renderer
}

func (p *promptSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	resume := p.renderer.pause()
	defer resume()

	question := fmt.Sprintf("Sign %s transaction with %s?", p.Domain(), p.Address())
	if !confirm(question) {
		return nil, types.ErrSigningRejected
	}
	return p.Signer.SignMessage(ctx, message)
}

func confirm(question string) bool {
	fmt.Printf("\n%s (y/N): ", question)

	response, err := stdin.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// outcome is the --json rendering of a finished transfer
type outcome struct {
	TransferID  string               `json:"transfer_id"`
	Stage       bridge.Stage         `json:"stage"`
	FailedStage bridge.Stage         `json:"failed_stage,omitempty"`
	BurnTx      string               `json:"burn_tx,omitempty"`
	MintTx      string               `json:"mint_tx,omitempty"`
	Error       string               `json:"error,omitempty"`
	ErrorKind   bridge.ErrorKind     `json:"error_kind,omitempty"`
	RecoveryURL string               `json:"recovery_url,omitempty"`
	Log         []status.Entry       `json:"log"`
	Attempts    map[bridge.Stage]int `json:"attempts,omitempty"`
}

func newOutcome(state bridge.TransferState, err error, log []status.Entry, manualMintURL string) outcome {
	out := outcome{
		TransferID:  state.TransferID,
		Stage:       state.Stage,
		FailedStage: state.FailedStage,
		ErrorKind:   state.ErrorKind,
		Log:         log,
		Attempts:    state.Attempts,
	}
	if state.BurnReceipt != nil {
		out.BurnTx = state.BurnReceipt.TransactionID
	}
	if state.MintReceipt != nil {
		out.MintTx = state.MintReceipt.TransactionID
	}
	if err != nil {
		out.Error = err.Error()
	}
	if state.Recovery != nil {
		out.RecoveryURL = state.Recovery.URL(manualMintURL)
	}
	return out
}

func displayOutcome(out outcome) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	if out.Error == "" {
		color.Green("                      TRANSFER COMPLETE")
	} else {
		color.Red("                       TRANSFER FAILED")
	}
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Transfer ID:     %s\n", out.TransferID)
	if out.BurnTx != "" {
		fmt.Printf("  Burn Tx:         %s\n", color.CyanString(out.BurnTx))
	}
	if out.MintTx != "" {
		fmt.Printf("  Mint Tx:         %s\n", color.CyanString(out.MintTx))
	}
	if out.Error != "" {
		fmt.Printf("  Failed At:       %s\n", out.FailedStage)
		fmt.Printf("  Error:           %s\n", color.RedString(out.Error))
	}
	if out.RecoveryURL != "" {
		fmt.Printf("\n  Your USDC is burned but not minted yet. Finish the transfer with:\n")
		color.Cyan("    cctp-bridge recover %q", out.RecoveryURL)
		fmt.Printf("\n  or open the link in a browser.\n")
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
