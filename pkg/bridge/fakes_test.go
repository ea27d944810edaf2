package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"cctp-bridge/pkg/attestation"
	"cctp-bridge/pkg/chain"
	"cctp-bridge/pkg/types"
)

const (
	testManualMintURL   = "https://app.example/manual-mint"
	testAptosRecipient  = "0x00000000000000000000000000000000000000000000000000000000000000aa"
	testSolanaRecipient = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

type fakeSigner struct {
	domain  types.Domain
	address string

	mu        sync.Mutex
	errs      []error
	calls     int
	sawCtxErr error
}

func newFakeSigner(domain types.Domain, address string) *fakeSigner {
	return &fakeSigner{domain: domain, address: address}
}

func (s *fakeSigner) Domain() types.Domain { return s.domain }
func (s *fakeSigner) Address() string      { return s.address }
func (s *fakeSigner) PublicKey() []byte    { return []byte(s.address) }

func (s *fakeSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.sawCtxErr = ctx.Err()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return append([]byte("sig:"), message...), nil
}

func (s *fakeSigner) signCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type statusReply struct {
	status types.ConfirmationStatus
	err    error
}

// fakeChain hands out ids like "solana-burn-1" and answers status lookups
// from a scripted sequence; the last reply repeats
type fakeChain struct {
	domain types.Domain

	mu          sync.Mutex
	statuses    []statusReply
	statusCalls map[string]int
	submitErrs  []error
	submitted   []string
	mints       []chain.MintParams
	nextID      int
}

func newFakeChain(domain types.Domain) *fakeChain {
	return &fakeChain{domain: domain, statusCalls: make(map[string]int)}
}

func (c *fakeChain) Domain() types.Domain { return c.domain }

func (c *fakeChain) BuildBurn(ctx context.Context, p chain.BurnParams) (*chain.Transaction, error) {
	return &chain.Transaction{Domain: c.domain, SignerAddress: p.Signer.Address(), SigningMessage: []byte("burn")}, nil
}

func (c *fakeChain) BuildMint(ctx context.Context, p chain.MintParams) (*chain.Transaction, error) {
	c.mu.Lock()
	c.mints = append(c.mints, p)
	c.mu.Unlock()
	return &chain.Transaction{Domain: c.domain, SignerAddress: p.Signer.Address(), SigningMessage: []byte("mint")}, nil
}

func (c *fakeChain) SubmitSignedTransaction(ctx context.Context, tx *chain.Transaction, signature []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.submitErrs) > 0 {
		err := c.submitErrs[0]
		c.submitErrs = c.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	c.nextID++
	id := fmt.Sprintf("%s-%s-%d", c.domain, tx.SigningMessage, c.nextID)
	c.submitted = append(c.submitted, id)
	return id, nil
}

func (c *fakeChain) GetTransactionStatus(ctx context.Context, txID string) (types.ConfirmationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.statusCalls[txID]
	c.statusCalls[txID] = n + 1
	if len(c.statuses) == 0 {
		return types.Confirmed(), nil
	}
	if n >= len(c.statuses) {
		n = len(c.statuses) - 1
	}
	return c.statuses[n].status, c.statuses[n].err
}

// AttestationID trims the id; ids starting with "bad" are malformed
func (c *fakeChain) AttestationID(ctx context.Context, txID string) (string, error) {
	if strings.HasPrefix(txID, "bad") {
		return "", fmt.Errorf("%w: %s", chain.ErrInvalidTransactionID, txID)
	}
	return strings.TrimSpace(txID), nil
}

func (c *fakeChain) EncodeRecipient(ctx context.Context, address string) ([32]byte, error) {
	var out [32]byte
	copy(out[:], address)
	return out, nil
}

func (c *fakeChain) ExplorerURL(txID string) string {
	return "https://explorer.test/" + c.domain.String() + "/" + txID
}

func (c *fakeChain) submissions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.submitted...)
}

func (c *fakeChain) lookups(txID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCalls[txID]
}

type fetchReply struct {
	record types.AttestationRecord
	err    error
}

// fakeFetcher replays scripted attestation lookups; the last reply repeats
type fakeFetcher struct {
	mu      sync.Mutex
	replies []fetchReply
	calls   int
	onFetch func(call int)
}

func (f *fakeFetcher) FetchAttestation(ctx context.Context, domain types.Domain, txID string) (types.AttestationRecord, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	reply := f.replies[min(call, len(f.replies))-1]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	rec := reply.record
	rec.Domain = domain
	rec.TransactionID = txID
	return rec, reply.err
}

func (f *fakeFetcher) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func pendingReply() fetchReply {
	return fetchReply{record: types.AttestationRecord{Message: "0xab", Status: types.AttestationPending}}
}

func readyReply(source types.Domain) fetchReply {
	return fetchReply{record: readyRecord(source, "")}
}

func readyRecord(source types.Domain, txID string) types.AttestationRecord {
	return types.AttestationRecord{
		Domain:        source,
		TransactionID: txID,
		Message:       burnMessageHex(source, 2_500_000),
		Attestation:   "0xfeed",
		EventNonce:    "7",
		Status:        types.AttestationReady,
	}
}

func burnMessageHex(source types.Domain, amount int64) string {
	body := attestation.EncodeBurnMessage(attestation.BurnMessage{
		BurnToken:     common.HexToHash("0x01"),
		MintRecipient: common.HexToHash("0xaa"),
		Amount:        big.NewInt(amount),
		MessageSender: common.HexToHash("0x02"),
	})
	return hexutil.Encode(attestation.EncodeMessage(attestation.Message{
		SourceDomain:      source,
		DestinationDomain: source.Counterpart(),
		Nonce:             7,
		Body:              body,
	}))
}

// flakySessions fails every reconnect
type flakySessions struct{}

func (flakySessions) Signer(ctx context.Context, domain types.Domain) (types.Signer, error) {
	return nil, fmt.Errorf("%w: wallet not connected", types.ErrSessionStale)
}

func (flakySessions) Reconnect(ctx context.Context, domain types.Domain) (types.Signer, error) {
	return nil, fmt.Errorf("user closed the wallet")
}

type fakeMinter struct {
	signs   bool
	mu      sync.Mutex
	calls   int
	receipt types.MintReceipt
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (m *fakeMinter) RequiresSigner() bool { return m.signs }

func (m *fakeMinter) Mint(ctx context.Context, req MintRequest) (types.MintReceipt, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	return m.receipt, m.err
}

func (m *fakeMinter) mintCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeLookup struct {
	receipt types.MintReceipt
	found   bool
}

func (l fakeLookup) FindMint(ctx context.Context, record types.AttestationRecord) (types.MintReceipt, bool, error) {
	return l.receipt, l.found, nil
}
