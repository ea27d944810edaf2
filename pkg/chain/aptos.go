package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/api"
	"github.com/aptos-labs/aptos-go-sdk/crypto"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"cctp-bridge/config"
	"cctp-bridge/pkg/retry"
	"cctp-bridge/pkg/types"
)

const (
	aptosDefaultGas     = 20000
	aptosDefaultPrice   = 100
	aptosDefaultTTL     = 600
	aptosDefaultChainID = 1
	aptosHashHexLen     = 64
)

// aptosNode is the part of the SDK client the bridge uses
type aptosNode interface {
	BuildTransaction(sender aptos.AccountAddress, payload aptos.TransactionPayload, options ...any) (*aptos.RawTransaction, error)
	SubmitTransaction(signed *aptos.SignedTransaction) (*api.SubmitTransactionResponse, error)
	TransactionByHash(hash string) (*api.Transaction, error)
}

type aptosTx struct {
	raw       *aptos.RawTransaction
	publicKey []byte
}

// AptosClient builds CCTP script transactions for Aptos and submits them through the node API
type AptosClient struct {
	config       config.AptosConfig
	node         aptosNode
	logger       *zap.Logger
	submitPolicy retry.Policy
}

// NewAptosClient creates a new Aptos chain client
func NewAptosClient(cfg config.AptosConfig, logger *zap.Logger) (*AptosClient, error) {
	if cfg.NodeURL == "" {
		return nil, fmt.Errorf("node URL not configured for Aptos")
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = aptosDefaultChainID
	}

	base := strings.TrimRight(cfg.NodeURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}

	node, err := aptos.NewClient(aptos.NetworkConfig{
		Name:    "cctp",
		ChainId: cfg.ChainID,
		NodeUrl: base,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Aptos client: %w", err)
	}
	return newAptosClient(cfg, node, logger), nil
}

func newAptosClient(cfg config.AptosConfig, node aptosNode, logger *zap.Logger) *AptosClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxGasAmount == 0 {
		cfg.MaxGasAmount = aptosDefaultGas
	}
	if cfg.GasUnitPrice == 0 {
		cfg.GasUnitPrice = aptosDefaultPrice
	}
	if cfg.ExpirationSeconds == 0 {
		cfg.ExpirationSeconds = aptosDefaultTTL
	}

	return &AptosClient{
		config: cfg,
		node:   node,
		logger: logger,
		submitPolicy: retry.Fixed(submitAttempts, 500*time.Millisecond).WithRetryable(func(err error) bool {
			return !errors.Is(err, ErrRejected)
		}),
	}
}

// Domain returns the CCTP domain of Aptos
func (a *AptosClient) Domain() types.Domain {
	return types.DomainAptos
}

// ExplorerURL returns a block explorer link for a transaction hash
func (a *AptosClient) ExplorerURL(txID string) string {
	return explorerLink(a.config.ExplorerURL, txID)
}

// EncodeRecipient left-pads an Aptos account address to 32 bytes
func (a *AptosClient) EncodeRecipient(ctx context.Context, address string) ([32]byte, error) {
	addr, err := ParseAptosAddress(address)
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(addr), nil
}

// AttestationID returns the lowercase 0x-prefixed transaction hash
func (a *AptosClient) AttestationID(ctx context.Context, txID string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(txID))
	h = strings.TrimPrefix(h, "0x")
	if len(h) != aptosHashHexLen {
		return "", fmt.Errorf("%w: %q is not a 32-byte hash", ErrInvalidTransactionID, txID)
	}
	if _, err := hexutil.Decode("0x" + h); err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidTransactionID, txID, err)
	}
	return "0x" + h, nil
}

// ParseAptosAddress parses a possibly short Aptos address, with or without 0x
func ParseAptosAddress(address string) (aptos.AccountAddress, error) {
	var addr aptos.AccountAddress
	if err := addr.ParseStringRelaxed(strings.TrimSpace(address)); err != nil {
		return aptos.AccountAddress{}, fmt.Errorf("invalid Aptos address %q: %w", address, err)
	}
	return addr, nil
}

// FormatAptosAddress renders a 32-byte address in long form
func FormatAptosAddress(addr [32]byte) string {
	long := aptos.AccountAddress(addr)
	return long.StringLong()
}

// BuildBurn builds the deposit_for_burn script transaction
func (a *AptosClient) BuildBurn(ctx context.Context, params BurnParams) (*Transaction, error) {
	if a.config.DepositForBurnScript == "" {
		return nil, fmt.Errorf("deposit_for_burn script not configured")
	}
	burnToken, err := ParseAptosAddress(a.config.USDCAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid USDC address: %w", err)
	}

	payload, err := scriptPayload(a.config.DepositForBurnScript,
		aptos.ScriptArgument{Variant: aptos.ScriptArgumentU64, Value: params.Amount},
		aptos.ScriptArgument{Variant: aptos.ScriptArgumentU32, Value: uint32(params.DestinationDomain)},
		aptos.ScriptArgument{Variant: aptos.ScriptArgumentAddress, Value: aptos.AccountAddress(params.MintRecipient)},
		aptos.ScriptArgument{Variant: aptos.ScriptArgumentAddress, Value: burnToken},
	)
	if err != nil {
		return nil, err
	}
	return a.buildTransaction(ctx, params.Signer, payload)
}

// BuildMint builds the handle_receive_message script transaction
func (a *AptosClient) BuildMint(ctx context.Context, params MintParams) (*Transaction, error) {
	if a.config.HandleReceiveMessageScript == "" {
		return nil, fmt.Errorf("handle_receive_message script not configured")
	}
	payload, err := scriptPayload(a.config.HandleReceiveMessageScript,
		aptos.ScriptArgument{Variant: aptos.ScriptArgumentU8Vector, Value: params.Message},
		aptos.ScriptArgument{Variant: aptos.ScriptArgumentU8Vector, Value: params.Attestation},
	)
	if err != nil {
		return nil, err
	}
	return a.buildTransaction(ctx, params.Signer, payload)
}

func scriptPayload(bytecode string, args ...aptos.ScriptArgument) (aptos.TransactionPayload, error) {
	code, err := hexutil.Decode(ensureHexPrefix(bytecode))
	if err != nil {
		return aptos.TransactionPayload{}, fmt.Errorf("invalid script bytecode: %w", err)
	}
	return aptos.TransactionPayload{Payload: &aptos.Script{
		Code:     code,
		ArgTypes: []aptos.TypeTag{},
		Args:     args,
	}}, nil
}

func (a *AptosClient) buildTransaction(ctx context.Context, signer types.Signer, payload aptos.TransactionPayload) (*Transaction, error) {
	if signer == nil {
		return nil, fmt.Errorf("no Aptos signer")
	}
	sender, err := ParseAptosAddress(signer.Address())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The node fills in the sequence number
	raw, err := a.node.BuildTransaction(sender, payload,
		aptos.MaxGasAmount(a.config.MaxGasAmount),
		aptos.GasUnitPrice(a.config.GasUnitPrice),
		aptos.ExpirationSeconds(a.config.ExpirationSeconds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction for %s: %w", signer.Address(), err)
	}

	signingMessage, err := raw.SigningMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	return &Transaction{
		Domain:         types.DomainAptos,
		SignerAddress:  signer.Address(),
		SigningMessage: signingMessage,
		aptos:          &aptosTx{raw: raw, publicKey: signer.PublicKey()},
	}, nil
}

// SubmitSignedTransaction attaches an ed25519 authenticator and submits the transaction
func (a *AptosClient) SubmitSignedTransaction(ctx context.Context, tx *Transaction, signature []byte) (string, error) {
	if tx == nil || tx.aptos == nil {
		return "", fmt.Errorf("not an Aptos transaction")
	}

	pub := &crypto.Ed25519PublicKey{}
	if err := pub.FromBytes(tx.aptos.publicKey); err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	sig := &crypto.Ed25519Signature{}
	if err := sig.FromBytes(signature); err != nil {
		return "", fmt.Errorf("invalid signature: %w", err)
	}
	signed, err := tx.aptos.raw.SignedTransactionWithAuthenticator(&crypto.AccountAuthenticator{
		Variant: crypto.AccountAuthenticatorEd25519,
		Auth:    &crypto.Ed25519Authenticator{PubKey: pub, Sig: sig},
	})
	if err != nil {
		return "", fmt.Errorf("failed to attach signature: %w", err)
	}

	resp, err := retry.Do(ctx, a.submitPolicy, func(ctx context.Context, attempt int) (*api.SubmitTransactionResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := a.node.SubmitTransaction(signed)
		if err != nil {
			return nil, submitError(err)
		}
		return out, nil
	}, retry.WithLogger(a.logger))
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return "", rejected
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	a.logger.Debug("aptos transaction submitted", zap.String("tx", resp.Hash))
	return resp.Hash, nil
}

// submitError turns a 4xx from the node into a rejection; the VM or mempool refused it
func submitError(err error) error {
	var httpErr *aptos.HttpError
	if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
		reason := strings.TrimSpace(string(httpErr.Body))
		if reason == "" {
			reason = httpErr.Error()
		}
		return newRejectedError(types.DomainAptos, reason)
	}
	return err
}

// GetTransactionStatus maps the transaction lookup onto pending, confirmed or failed
func (a *AptosClient) GetTransactionStatus(ctx context.Context, txID string) (types.ConfirmationStatus, error) {
	if err := ctx.Err(); err != nil {
		return types.ConfirmationStatus{}, err
	}

	tx, err := a.node.TransactionByHash(txID)
	if err != nil {
		var httpErr *aptos.HttpError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return types.Pending(), nil
		}
		return types.ConfirmationStatus{}, fmt.Errorf("failed to get transaction %s: %w", txID, err)
	}

	switch inner := tx.Inner.(type) {
	case *api.PendingTransaction:
		return types.Pending(), nil
	case *api.UserTransaction:
		if !inner.Success {
			return types.Failed(inner.VmStatus), nil
		}
		return types.Confirmed(), nil
	default:
		return types.ConfirmationStatus{}, fmt.Errorf("transaction %s is %s, not a user transaction", txID, tx.Type)
	}
}
