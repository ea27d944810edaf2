package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cctp-bridge/pkg/retry"
	"cctp-bridge/pkg/types"
)

// Config holds the application configuration
type Config struct {
	AttestationURL string
	MintEndpoint   string
	ManualMintURL  string
	HistoryFile    string
	LogLevel       string

	Solana  SolanaConfig
	Aptos   AptosConfig
	Polling PollingConfig
}

// SolanaConfig holds Solana RPC, key and CCTP program settings
type SolanaConfig struct {
	RPCUrl               string
	PrivateKey           string
	Commitment           string
	SkipPreflight        bool
	USDCMint             string
	MessageTransmitter   string
	TokenMessengerMinter string
	ExplorerURL          string
}

// AptosConfig holds Aptos node, key and CCTP script settings
type AptosConfig struct {
	NodeURL                    string
	ChainID                    uint8
	PrivateKey                 string
	DepositForBurnScript       string
	HandleReceiveMessageScript string
	USDCAddress                string
	MaxGasAmount               uint64
	GasUnitPrice               uint64
	ExpirationSeconds          int
	ExplorerURL                string
}

// BackoffConfig is an exponential polling schedule
type BackoffConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Policy converts the schedule into a retry policy that also waits before the first attempt
func (b BackoffConfig) Policy() retry.Policy {
	return retry.Exponential(b.MaxAttempts, b.InitialDelay, b.MaxDelay, b.Multiplier)
}

// PollingConfig holds confirmation and attestation polling budgets
type PollingConfig struct {
	ConfirmationAttempts int
	ConfirmationInterval time.Duration
	ConfirmationRounds   int
	// Attestation schedules are keyed by the burn's source chain
	SolanaAttestation BackoffConfig
	AptosAttestation  BackoffConfig
}

// AttestationPolicy returns the attestation schedule for burns on source
func (p PollingConfig) AttestationPolicy(source types.Domain) retry.Policy {
	if source == types.DomainSolana {
		return p.SolanaAttestation.Policy()
	}
	return p.AptosAttestation.Policy()
}

var globalConfig *Config

func setDefaults() {
	viper.SetDefault("attestation_url", "https://iris-api.circle.com/v1")
	viper.SetDefault("log_level", "warn")

	viper.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	viper.SetDefault("solana.commitment", "finalized")
	viper.SetDefault("solana.usdc_mint", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	viper.SetDefault("solana.message_transmitter", "CCTPmbSD7gX1bxKPAmg77w8oFzNFpaQiQUWD43TKaecd")
	viper.SetDefault("solana.token_messenger_minter", "CCTPiPYPc6AsJuwueEnWgSgucamXDZwBd53dQ11YiKX3")
	viper.SetDefault("solana.explorer_url", "https://solscan.io/tx/%s")

	viper.SetDefault("aptos.node_url", "https://fullnode.mainnet.aptoslabs.com")
	viper.SetDefault("aptos.chain_id", 1)
	viper.SetDefault("aptos.usdc_address", "0xbae207659db88bea0cbead6da0ed00aac12edcdda169e591cd41c94180b46f3b")
	viper.SetDefault("aptos.max_gas_amount", 20000)
	viper.SetDefault("aptos.gas_unit_price", 100)
	viper.SetDefault("aptos.expiration_seconds", 600)
	viper.SetDefault("aptos.explorer_url", "https://explorer.aptoslabs.com/txn/%s?network=mainnet")

	viper.SetDefault("polling.confirmation_attempts", 30)
	viper.SetDefault("polling.confirmation_interval", "2s")
	viper.SetDefault("polling.confirmation_rounds", 2)

	viper.SetDefault("polling.solana_attestation.max_attempts", 15)
	viper.SetDefault("polling.solana_attestation.initial_delay", "10s")
	viper.SetDefault("polling.solana_attestation.max_delay", "60s")
	viper.SetDefault("polling.solana_attestation.multiplier", 1.5)

	viper.SetDefault("polling.aptos_attestation.max_attempts", 15)
	viper.SetDefault("polling.aptos_attestation.initial_delay", "5s")
	viper.SetDefault("polling.aptos_attestation.max_delay", "60s")
	viper.SetDefault("polling.aptos_attestation.multiplier", 2.0)
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".cctp-bridge")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	setDefaults()

	// CCTP_BRIDGE_SOLANA_RPC_URL maps to solana.rpc_url
	viper.SetEnvPrefix("CCTP_BRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (optional)
	_ = viper.ReadInConfig()

	cfg := fromViper()
	if err := cfg.validateShape(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

func fromViper() *Config {
	return &Config{
		AttestationURL: viper.GetString("attestation_url"),
		MintEndpoint:   viper.GetString("mint_endpoint"),
		ManualMintURL:  viper.GetString("manual_mint_url"),
		HistoryFile:    viper.GetString("history_file"),
		LogLevel:       viper.GetString("log_level"),
		Solana: SolanaConfig{
			RPCUrl:               viper.GetString("solana.rpc_url"),
			PrivateKey:           viper.GetString("solana.private_key"),
			Commitment:           viper.GetString("solana.commitment"),
			SkipPreflight:        viper.GetBool("solana.skip_preflight"),
			USDCMint:             viper.GetString("solana.usdc_mint"),
			MessageTransmitter:   viper.GetString("solana.message_transmitter"),
			TokenMessengerMinter: viper.GetString("solana.token_messenger_minter"),
			ExplorerURL:          viper.GetString("solana.explorer_url"),
		},
		Aptos: AptosConfig{
			NodeURL:                    viper.GetString("aptos.node_url"),
			ChainID:                    uint8(viper.GetUint("aptos.chain_id")),
			PrivateKey:                 viper.GetString("aptos.private_key"),
			DepositForBurnScript:       viper.GetString("aptos.deposit_for_burn_script"),
			HandleReceiveMessageScript: viper.GetString("aptos.handle_receive_message_script"),
			USDCAddress:                viper.GetString("aptos.usdc_address"),
			MaxGasAmount:               viper.GetUint64("aptos.max_gas_amount"),
			GasUnitPrice:               viper.GetUint64("aptos.gas_unit_price"),
			ExpirationSeconds:          viper.GetInt("aptos.expiration_seconds"),
			ExplorerURL:                viper.GetString("aptos.explorer_url"),
		},
		Polling: PollingConfig{
			ConfirmationAttempts: viper.GetInt("polling.confirmation_attempts"),
			ConfirmationInterval: viper.GetDuration("polling.confirmation_interval"),
			ConfirmationRounds:   viper.GetInt("polling.confirmation_rounds"),
			SolanaAttestation:    backoffFromViper("polling.solana_attestation"),
			AptosAttestation:     backoffFromViper("polling.aptos_attestation"),
		},
	}
}

func backoffFromViper(prefix string) BackoffConfig {
	return BackoffConfig{
		MaxAttempts:  viper.GetInt(prefix + ".max_attempts"),
		InitialDelay: viper.GetDuration(prefix + ".initial_delay"),
		MaxDelay:     viper.GetDuration(prefix + ".max_delay"),
		Multiplier:   viper.GetFloat64(prefix + ".multiplier"),
	}
}

// validateShape checks values every command depends on
func (c *Config) validateShape() error {
	if c.AttestationURL == "" {
		return fmt.Errorf("attestation URL not configured. Set CCTP_BRIDGE_ATTESTATION_URL or attestation_url in .cctp-bridge.yaml")
	}
	if c.Polling.ConfirmationAttempts < 1 || c.Polling.ConfirmationInterval <= 0 {
		return fmt.Errorf("confirmation polling needs at least one attempt and a positive interval")
	}
	for name, b := range map[string]BackoffConfig{
		"solana_attestation": c.Polling.SolanaAttestation,
		"aptos_attestation":  c.Polling.AptosAttestation,
	} {
		if err := b.Policy().Validate(); err != nil {
			return fmt.Errorf("polling.%s: %w", name, err)
		}
	}
	return nil
}

// ValidateRoute checks the settings needed to move USDC from source to destination
func (c *Config) ValidateRoute(source, destination types.Domain) error {
	if c.ManualMintURL == "" {
		return fmt.Errorf("manual mint URL not configured. Set CCTP_BRIDGE_MANUAL_MINT_URL so failed transfers can be recovered")
	}

	switch source {
	case types.DomainSolana:
		if c.Solana.PrivateKey == "" {
			return fmt.Errorf("private key not configured for Solana. Set CCTP_BRIDGE_SOLANA_PRIVATE_KEY")
		}
		if c.MintEndpoint == "" {
			return fmt.Errorf("mint endpoint not configured. Set CCTP_BRIDGE_MINT_ENDPOINT to relay mints on Aptos")
		}
	case types.DomainAptos:
		if c.Aptos.PrivateKey == "" {
			return fmt.Errorf("private key not configured for Aptos. Set CCTP_BRIDGE_APTOS_PRIVATE_KEY")
		}
		if c.Aptos.DepositForBurnScript == "" {
			return fmt.Errorf("deposit_for_burn script bytecode not configured for Aptos")
		}
	default:
		return fmt.Errorf("unsupported source domain %s", source)
	}

	if destination == types.DomainSolana && c.Solana.PrivateKey == "" {
		return fmt.Errorf("private key not configured for Solana. The mint on Solana is signed locally")
	}
	if destination == source || !destination.Valid() {
		return fmt.Errorf("unsupported route %s -> %s", source, destination)
	}
	return nil
}

// ValidateRecovery checks the settings needed to mint for a burn that already
// landed on source
func (c *Config) ValidateRecovery(source types.Domain) error {
	switch source {
	case types.DomainSolana:
		if c.MintEndpoint == "" {
			return fmt.Errorf("mint endpoint not configured. Set CCTP_BRIDGE_MINT_ENDPOINT to relay mints on Aptos")
		}
	case types.DomainAptos:
		if c.Solana.PrivateKey == "" {
			return fmt.Errorf("private key not configured for Solana. The mint on Solana is signed locally")
		}
	default:
		return fmt.Errorf("unsupported source domain %s", source)
	}
	return nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
