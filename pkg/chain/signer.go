package chain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/crypto"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gagliardetto/solana-go"

	"cctp-bridge/pkg/types"
)

// SolanaKeySigner signs with a locally held base58 private key
type SolanaKeySigner struct {
	privateKey solana.PrivateKey
}

// NewSolanaKeySigner parses a base58 encoded Solana private key
func NewSolanaKeySigner(base58Key string) (*SolanaKeySigner, error) {
	pk, err := solana.PrivateKeyFromBase58(strings.TrimSpace(base58Key))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &SolanaKeySigner{privateKey: pk}, nil
}

func (s *SolanaKeySigner) Domain() types.Domain { return types.DomainSolana }

func (s *SolanaKeySigner) Address() string { return s.privateKey.PublicKey().String() }

func (s *SolanaKeySigner) PublicKey() []byte { return s.privateKey.PublicKey().Bytes() }

// SignMessage signs a serialized transaction message
func (s *SolanaKeySigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := s.privateKey.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return sig[:], nil
}

// AptosKeySigner signs with a locally held ed25519 key
type AptosKeySigner struct {
	account *aptos.Account
}

// NewAptosKeySigner parses a hex ed25519 private key (32-byte seed or 64-byte key)
func NewAptosKeySigner(hexKey string) (*AptosKeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "ed25519-priv-")
	raw, err := hexutil.Decode(ensureHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	// a 64-byte key is seed || public key
	switch len(raw) {
	case ed25519.SeedSize:
	case ed25519.PrivateKeySize:
		raw = raw[:ed25519.SeedSize]
	default:
		return nil, fmt.Errorf("invalid private key length %d", len(raw))
	}

	key := &crypto.Ed25519PrivateKey{}
	if err := key.FromBytes(raw); err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	account, err := aptos.NewAccountFromSigner(key)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account: %w", err)
	}
	return &AptosKeySigner{account: account}, nil
}

func (s *AptosKeySigner) Domain() types.Domain { return types.DomainAptos }

func (s *AptosKeySigner) Address() string { return s.account.Address.StringLong() }

func (s *AptosKeySigner) PublicKey() []byte { return s.account.PubKey().Bytes() }

// SignMessage signs the BCS signing message of a raw transaction
func (s *AptosKeySigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := s.account.SignMessage(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return sig.Bytes(), nil
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	return "0x" + s
}
