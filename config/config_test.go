package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cctp-bridge/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://iris-api.circle.com/v1", cfg.AttestationURL)
	assert.Equal(t, 30, cfg.Polling.ConfirmationAttempts)
	assert.Equal(t, 2*time.Second, cfg.Polling.ConfirmationInterval)
	assert.Equal(t, 1.5, cfg.Polling.SolanaAttestation.Multiplier)
	assert.Equal(t, 2.0, cfg.Polling.AptosAttestation.Multiplier)
	assert.Equal(t, 15, cfg.Polling.AttestationPolicy(types.DomainAptos).MaxAttempts)
	assert.Equal(t, "CCTPiPYPc6AsJuwueEnWgSgucamXDZwBd53dQ11YiKX3", cfg.Solana.TokenMessengerMinter)
	assert.Same(t, cfg, Get())
}

func TestLoadFromEnv(t *testing.T) {
	viper.Reset()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("CCTP_BRIDGE_SOLANA_RPC_URL", "http://localhost:8899")
	t.Setenv("CCTP_BRIDGE_MINT_ENDPOINT", "https://relay.local/mint")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8899", cfg.Solana.RPCUrl)
	assert.Equal(t, "https://relay.local/mint", cfg.MintEndpoint)
}

func TestValidateRoute(t *testing.T) {
	base := Config{
		ManualMintURL: "https://bridge.local/manual-mint",
		MintEndpoint:  "https://relay.local/mint",
		Solana:        SolanaConfig{PrivateKey: "key"},
		Aptos:         AptosConfig{PrivateKey: "key", DepositForBurnScript: "0x01"},
	}

	assert.NoError(t, base.ValidateRoute(types.DomainSolana, types.DomainAptos))
	assert.NoError(t, base.ValidateRoute(types.DomainAptos, types.DomainSolana))
	assert.Error(t, base.ValidateRoute(types.DomainSolana, types.DomainSolana))

	noRelay := base
	noRelay.MintEndpoint = ""
	assert.Error(t, noRelay.ValidateRoute(types.DomainSolana, types.DomainAptos))
	assert.NoError(t, noRelay.ValidateRoute(types.DomainAptos, types.DomainSolana))

	noRecovery := base
	noRecovery.ManualMintURL = ""
	assert.Error(t, noRecovery.ValidateRoute(types.DomainSolana, types.DomainAptos))

	noSolanaKey := base
	noSolanaKey.Solana.PrivateKey = ""
	assert.Error(t, noSolanaKey.ValidateRoute(types.DomainAptos, types.DomainSolana))
}

func TestValidateRecovery(t *testing.T) {
	cfg := &Config{}
	assert.ErrorContains(t, cfg.ValidateRecovery(types.DomainSolana), "mint endpoint")
	assert.ErrorContains(t, cfg.ValidateRecovery(types.DomainAptos), "Solana")
	assert.Error(t, cfg.ValidateRecovery(types.Domain(0)))

	cfg.MintEndpoint = "https://relay.example/mint"
	cfg.Solana.PrivateKey = "key"
	assert.NoError(t, cfg.ValidateRecovery(types.DomainSolana))
	assert.NoError(t, cfg.ValidateRecovery(types.DomainAptos))
}
