package chain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"

	"cctp-bridge/config"
	"cctp-bridge/pkg/attestation"
	"cctp-bridge/pkg/retry"
	"cctp-bridge/pkg/types"
)

// Used-nonce accounts on Solana each cover a window of this many nonces
const usedNoncesPerAccount = 6400

const (
	solanaSignatureLen = 64
	solanaPublicKeyLen = 32
)

// submitAttempts bounds rebroadcasts of a signed transaction on transport errors
const submitAttempts = 3

type solanaTx struct {
	tx        *solana.Transaction
	owner     solana.PublicKey
	ephemeral *solana.PrivateKey
}

// SolanaClient builds CCTP transactions for Solana and talks to its RPC
type SolanaClient struct {
	config               config.SolanaConfig
	client               *rpc.Client
	usdcMint             solana.PublicKey
	messageTransmitter   solana.PublicKey
	tokenMessengerMinter solana.PublicKey
	logger               *zap.Logger
	submitPolicy         retry.Policy
}

// NewSolanaClient creates a new Solana chain client
func NewSolanaClient(cfg config.SolanaConfig, logger *zap.Logger) (*SolanaClient, error) {
	if cfg.RPCUrl == "" {
		return nil, fmt.Errorf("RPC URL not configured for Solana")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	usdcMint, err := solana.PublicKeyFromBase58(cfg.USDCMint)
	if err != nil {
		return nil, fmt.Errorf("invalid USDC mint: %w", err)
	}
	mt, err := solana.PublicKeyFromBase58(cfg.MessageTransmitter)
	if err != nil {
		return nil, fmt.Errorf("invalid message transmitter program: %w", err)
	}
	tmm, err := solana.PublicKeyFromBase58(cfg.TokenMessengerMinter)
	if err != nil {
		return nil, fmt.Errorf("invalid token messenger minter program: %w", err)
	}

	return &SolanaClient{
		config:               cfg,
		client:               rpc.New(cfg.RPCUrl),
		usdcMint:             usdcMint,
		messageTransmitter:   mt,
		tokenMessengerMinter: tmm,
		logger:               logger,
		submitPolicy: retry.Fixed(submitAttempts, 500*time.Millisecond).WithRetryable(func(err error) bool {
			var rpcErr *jsonrpc.RPCError
			return !errors.As(err, &rpcErr)
		}),
	}, nil
}

// Domain returns the CCTP domain of Solana
func (s *SolanaClient) Domain() types.Domain {
	return types.DomainSolana
}

// ExplorerURL returns a block explorer link for a signature
func (s *SolanaClient) ExplorerURL(txID string) string {
	return explorerLink(s.config.ExplorerURL, txID)
}

// EncodeRecipient returns the USDC token account that receives mints for a wallet.
// CCTP on Solana mints to the associated token account, not the wallet itself.
func (s *SolanaClient) EncodeRecipient(ctx context.Context, address string) ([32]byte, error) {
	wallet, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return [32]byte{}, fmt.Errorf("invalid Solana address %q: %w", address, err)
	}
	ata, err := s.getAssociatedTokenAddress(wallet, s.usdcMint)
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(ata), nil
}

type depositForBurnArgs struct {
	Discriminator     [8]byte
	Amount            uint64
	DestinationDomain uint32
	MintRecipient     solana.PublicKey
}

type receiveMessageArgs struct {
	Discriminator [8]byte
	Message       []byte
	Attestation   []byte
}

// BuildBurn builds a TokenMessengerMinter deposit_for_burn transaction
func (s *SolanaClient) BuildBurn(ctx context.Context, params BurnParams) (*Transaction, error) {
	owner, err := signerKey(params.Signer)
	if err != nil {
		return nil, err
	}

	burnTokenAccount, err := s.getAssociatedTokenAddress(owner, s.usdcMint)
	if err != nil {
		return nil, fmt.Errorf("failed to get source token account: %w", err)
	}

	eventData, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to create message event account: %w", err)
	}

	tmm := s.tokenMessengerMinter
	pdas, err := s.findPDAs(
		pda{tmm, [][]byte{[]byte("sender_authority")}},
		pda{s.messageTransmitter, [][]byte{[]byte("message_transmitter")}},
		pda{tmm, [][]byte{[]byte("token_messenger")}},
		pda{tmm, [][]byte{[]byte("remote_token_messenger"), domainSeed(params.DestinationDomain)}},
		pda{tmm, [][]byte{[]byte("token_minter")}},
		pda{tmm, [][]byte{[]byte("local_token"), s.usdcMint.Bytes()}},
		pda{tmm, [][]byte{[]byte("__event_authority")}},
	)
	if err != nil {
		return nil, err
	}

	data, err := borshEncode(depositForBurnArgs{
		Discriminator:     anchorDiscriminator("deposit_for_burn"),
		Amount:            params.Amount,
		DestinationDomain: uint32(params.DestinationDomain),
		MintRecipient:     solana.PublicKeyFromBytes(params.MintRecipient[:]),
	})
	if err != nil {
		return nil, err
	}

	ix := solana.NewInstruction(tmm, solana.AccountMetaSlice{
		solana.Meta(owner).SIGNER(),
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(pdas[0]),
		solana.Meta(burnTokenAccount).WRITE(),
		solana.Meta(pdas[1]).WRITE(),
		solana.Meta(pdas[2]),
		solana.Meta(pdas[3]),
		solana.Meta(pdas[4]),
		solana.Meta(pdas[5]).WRITE(),
		solana.Meta(s.usdcMint).WRITE(),
		solana.Meta(eventData.PublicKey()).WRITE().SIGNER(),
		solana.Meta(s.messageTransmitter),
		solana.Meta(tmm),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(pdas[6]),
		solana.Meta(tmm),
	}, data)

	return s.newTransaction(ctx, owner, []solana.Instruction{ix}, &eventData)
}

// BuildMint builds a MessageTransmitter receive_message transaction that mints to the recipient's token account
func (s *SolanaClient) BuildMint(ctx context.Context, params MintParams) (*Transaction, error) {
	payer, err := signerKey(params.Signer)
	if err != nil {
		return nil, err
	}

	msg, err := attestation.ParseMessage(params.Message)
	if err != nil {
		return nil, fmt.Errorf("invalid CCTP message: %w", err)
	}
	burn, err := msg.BurnMessage()
	if err != nil {
		return nil, fmt.Errorf("invalid CCTP message: %w", err)
	}

	recipient, err := solana.PublicKeyFromBase58(params.Recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	userTokenAccount := solana.PublicKeyFromBytes(burn.MintRecipient.Bytes())

	// The token account created below must be the one the message mints to
	recipientATA, err := s.getAssociatedTokenAddress(recipient, s.usdcMint)
	if err != nil {
		return nil, err
	}
	if !recipientATA.Equals(userTokenAccount) {
		return nil, fmt.Errorf("%w: token account of %s is %s, message mints to %s",
			ErrRecipientMismatch, recipient, recipientATA, userTokenAccount)
	}

	mt, tmm := s.messageTransmitter, s.tokenMessengerMinter
	source := domainSeed(msg.SourceDomain)
	pdas, err := s.findPDAs(
		pda{mt, [][]byte{[]byte("message_transmitter_authority"), tmm.Bytes()}},
		pda{mt, [][]byte{[]byte("message_transmitter")}},
		pda{mt, [][]byte{[]byte("used_nonces"), source, []byte(strconv.FormatUint(firstNonce(msg.Nonce), 10))}},
		pda{mt, [][]byte{[]byte("__event_authority")}},
		pda{tmm, [][]byte{[]byte("token_messenger")}},
		pda{tmm, [][]byte{[]byte("remote_token_messenger"), source}},
		pda{tmm, [][]byte{[]byte("token_minter")}},
		pda{tmm, [][]byte{[]byte("local_token"), s.usdcMint.Bytes()}},
		pda{tmm, [][]byte{[]byte("token_pair"), source, burn.BurnToken.Bytes()}},
		pda{tmm, [][]byte{[]byte("custody"), s.usdcMint.Bytes()}},
		pda{tmm, [][]byte{[]byte("__event_authority")}},
	)
	if err != nil {
		return nil, err
	}

	data, err := borshEncode(receiveMessageArgs{
		Discriminator: anchorDiscriminator("receive_message"),
		Message:       params.Message,
		Attestation:   params.Attestation,
	})
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction

	// Create the recipient's token account if it doesn't exist
	exists, err := s.accountExists(ctx, userTokenAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to check recipient token account: %w", err)
	}
	if !exists {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(
			payer,
			recipient,
			s.usdcMint,
		).Build())
	}

	instructions = append(instructions, solana.NewInstruction(mt, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(payer).SIGNER(),
		solana.Meta(pdas[0]),
		solana.Meta(pdas[1]),
		solana.Meta(pdas[2]).WRITE(),
		solana.Meta(tmm),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(pdas[3]),
		solana.Meta(mt),
		// accounts forwarded to the token messenger's handle_receive_message
		solana.Meta(pdas[4]),
		solana.Meta(pdas[5]),
		solana.Meta(pdas[6]).WRITE(),
		solana.Meta(pdas[7]).WRITE(),
		solana.Meta(pdas[8]),
		solana.Meta(userTokenAccount).WRITE(),
		solana.Meta(pdas[9]).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(pdas[10]),
		solana.Meta(tmm),
	}, data))

	return s.newTransaction(ctx, payer, instructions, nil)
}

func (s *SolanaClient) newTransaction(ctx context.Context, payer solana.PublicKey, instructions []solana.Instruction, ephemeral *solana.PrivateKey) (*Transaction, error) {
	recent, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction message: %w", err)
	}

	return &Transaction{
		Domain:         types.DomainSolana,
		SignerAddress:  payer.String(),
		SigningMessage: message,
		solana:         &solanaTx{tx: tx, owner: payer, ephemeral: ephemeral},
	}, nil
}

// SubmitSignedTransaction attaches the owner's signature, co-signs with any ephemeral key and broadcasts
func (s *SolanaClient) SubmitSignedTransaction(ctx context.Context, tx *Transaction, signature []byte) (string, error) {
	if tx == nil || tx.solana == nil {
		return "", fmt.Errorf("not a Solana transaction")
	}
	if len(signature) != solanaSignatureLen {
		return "", fmt.Errorf("invalid signature length %d", len(signature))
	}

	st := tx.solana
	msg := st.tx.Message
	required := int(msg.Header.NumRequiredSignatures)
	st.tx.Signatures = make([]solana.Signature, required)

	for i := 0; i < required; i++ {
		key := msg.AccountKeys[i]
		switch {
		case key.Equals(st.owner):
			copy(st.tx.Signatures[i][:], signature)
		case st.ephemeral != nil && key.Equals(st.ephemeral.PublicKey()):
			sig, err := st.ephemeral.Sign(tx.SigningMessage)
			if err != nil {
				return "", fmt.Errorf("failed to sign with event account: %w", err)
			}
			st.tx.Signatures[i] = sig
		default:
			return "", fmt.Errorf("no signature available for %s", key)
		}
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       s.config.SkipPreflight,
		PreflightCommitment: s.getCommitment(),
	}

	sig, err := retry.Do(ctx, s.submitPolicy, func(ctx context.Context, attempt int) (solana.Signature, error) {
		return s.client.SendTransactionWithOpts(ctx, st.tx, opts)
	}, retry.WithLogger(s.logger))
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return "", newRejectedError(types.DomainSolana, rpcErrorReason(rpcErr))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	s.logger.Debug("solana transaction sent", zap.String("tx", sig.String()))
	return sig.String(), nil
}

// AttestationID returns the canonical base58 signature
func (s *SolanaClient) AttestationID(ctx context.Context, txID string) (string, error) {
	sig, err := solana.SignatureFromBase58(strings.TrimSpace(txID))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidTransactionID, txID, err)
	}
	return sig.String(), nil
}

// GetTransactionStatus maps the signature status onto pending, confirmed or failed
func (s *SolanaClient) GetTransactionStatus(ctx context.Context, txID string) (types.ConfirmationStatus, error) {
	sig, err := solana.SignatureFromBase58(txID)
	if err != nil {
		return types.ConfirmationStatus{}, fmt.Errorf("invalid transaction signature: %w", err)
	}

	out, err := s.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return types.ConfirmationStatus{}, fmt.Errorf("failed to get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return types.Pending(), nil
	}

	st := out.Value[0]
	if st.Err != nil {
		return types.Failed(fmt.Sprintf("%v", st.Err)), nil
	}
	if s.reached(st.ConfirmationStatus) {
		return types.Confirmed(), nil
	}
	return types.Pending(), nil
}

// reached reports whether a status satisfies the configured commitment
func (s *SolanaClient) reached(status rpc.ConfirmationStatusType) bool {
	switch s.getCommitment() {
	case rpc.CommitmentFinalized:
		return status == rpc.ConfirmationStatusFinalized
	case rpc.CommitmentConfirmed:
		return status == rpc.ConfirmationStatusConfirmed || status == rpc.ConfirmationStatusFinalized
	default:
		return status != ""
	}
}

// getAssociatedTokenAddress derives the associated token account address
func (s *SolanaClient) getAssociatedTokenAddress(wallet solana.PublicKey, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

// accountExists checks if an account exists on-chain
func (s *SolanaClient) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	accountInfo, err := s.client.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return accountInfo.Value != nil, nil
}

// getCommitment returns the commitment level from config
func (s *SolanaClient) getCommitment() rpc.CommitmentType {
	switch strings.ToLower(s.config.Commitment) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "confirmed":
		return rpc.CommitmentConfirmed
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentFinalized
	}
}

type pda struct {
	program solana.PublicKey
	seeds   [][]byte
}

func (s *SolanaClient) findPDAs(specs ...pda) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, len(specs))
	for i, spec := range specs {
		addr, _, err := solana.FindProgramAddress(spec.seeds, spec.program)
		if err != nil {
			return nil, fmt.Errorf("failed to derive PDA %q: %w", spec.seeds[0], err)
		}
		out[i] = addr
	}
	return out, nil
}

func signerKey(signer types.Signer) (solana.PublicKey, error) {
	if signer == nil {
		return solana.PublicKey{}, fmt.Errorf("no Solana signer")
	}
	pk := signer.PublicKey()
	if len(pk) != solanaPublicKeyLen {
		return solana.PublicKey{}, fmt.Errorf("invalid Solana public key length %d", len(pk))
	}
	return solana.PublicKeyFromBytes(pk), nil
}

// anchorDiscriminator is the 8-byte instruction selector Anchor derives from the method name
func anchorDiscriminator(name string) [8]byte {
	var d [8]byte
	sum := sha256.Sum256([]byte("global:" + name))
	copy(d[:], sum[:8])
	return d
}

func borshEncode(v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode instruction data: %w", err)
	}
	return buf.Bytes(), nil
}

// domainSeed is the decimal string form CCTP programs use for domain seeds
func domainSeed(d types.Domain) []byte {
	return []byte(strconv.FormatUint(uint64(d), 10))
}

// firstNonce returns the first nonce covered by the used-nonces account holding nonce
func firstNonce(nonce uint64) uint64 {
	if nonce == 0 {
		return 0
	}
	return ((nonce-1)/usedNoncesPerAccount)*usedNoncesPerAccount + 1
}

func rpcErrorReason(err *jsonrpc.RPCError) string {
	if err.Data == nil {
		return err.Message
	}
	return fmt.Sprintf("%s: %v", err.Message, err.Data)
}

func explorerLink(template, txID string) string {
	if template == "" || txID == "" {
		return ""
	}
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, txID)
	}
	return strings.TrimRight(template, "/") + "/" + txID
}
