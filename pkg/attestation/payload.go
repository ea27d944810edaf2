package attestation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"cctp-bridge/pkg/types"
)

// statusComplete is the only message status Iris reports once signing is done
const statusComplete = "complete"

// messagesResponse is the body of GET /messages/{domain}/{txId}
type messagesResponse struct {
	Messages []messageJSON `json:"messages"`
}

type messageJSON struct {
	Message     string     `json:"message"`
	Attestation string     `json:"attestation"`
	EventNonce  flexString `json:"eventNonce"`
	Status      string     `json:"status,omitempty"`
}

// flexString accepts both JSON strings and numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// IsPendingSentinel reports whether a field carries the service's placeholder
// instead of real data ("PENDING", "PENDING..." in any case).
func IsPendingSentinel(s string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(s)), "PENDING")
}

// ParsePayload turns a 2xx response body into an attestation record.
// It has no side effects, so parsing the same body twice gives equal records.
func ParsePayload(domain types.Domain, txID string, body []byte) (types.AttestationRecord, error) {
	record := types.AttestationRecord{
		Domain:        domain,
		TransactionID: txID,
	}

	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		err = &ServiceError{Err: fmt.Errorf("malformed response: %w", err)}
		record.Status = types.AttestationError
		record.Reason = err.Error()
		return record, err
	}

	if len(resp.Messages) == 0 {
		record.Status = types.AttestationNotFound
		return record, nil
	}

	// A burn emits exactly one CCTP message
	msg := resp.Messages[0]
	record.EventNonce = string(msg.EventNonce)

	message := strings.TrimSpace(msg.Message)
	attestation := strings.TrimSpace(msg.Attestation)
	if message != "" && !IsPendingSentinel(message) {
		record.Message = message
	}

	pending := attestation == "" || IsPendingSentinel(attestation) ||
		record.Message == "" ||
		(msg.Status != "" && !strings.EqualFold(msg.Status, statusComplete))
	if pending {
		record.Status = types.AttestationPending
		return record, nil
	}

	msgBytes, err := hexutil.Decode(ensure0x(message))
	if err != nil {
		return invalid(record, fmt.Errorf("invalid message hex: %w", err))
	}
	if _, err := hexutil.Decode(ensure0x(attestation)); err != nil {
		return invalid(record, fmt.Errorf("invalid attestation hex: %w", err))
	}

	record.Message = hexutil.Encode(msgBytes)
	record.Attestation = strings.ToLower(ensure0x(attestation))
	record.MessageHash = crypto.Keccak256Hash(msgBytes).Hex()
	record.Status = types.AttestationReady
	return record, nil
}

func invalid(record types.AttestationRecord, cause error) (types.AttestationRecord, error) {
	err := &ServiceError{Err: cause}
	record.Status = types.AttestationError
	record.Reason = err.Error()
	return record, err
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	return "0x" + s
}
