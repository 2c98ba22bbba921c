// Package ledger submits vote commitments to the external append-only ledger
// and reads back their receipts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrUnavailable        = errors.New("ledger unavailable")
	ErrRejected           = errors.New("ledger rejected transaction")
	ErrInvalidTransaction = errors.New("invalid transaction id")
)

// Confirmation is the mined outcome of a submitted commitment.
type Confirmation struct {
	TxID        string
	BlockNumber uint64
	Success     bool
}

// Receipt is what the ledger reports for a transaction after the fact.
type Receipt struct {
	TxID        string
	BlockNumber uint64
	Success     bool
	To          string
}

// Commitment hashes a vote's identifying fields with its submission time.
// Including the nanosecond timestamp makes every attempt unique.
func Commitment(voterID int64, electionID, candidateID string, at time.Time) [32]byte {
	payload := fmt.Sprintf("%d-%s-%s-%d", voterID, electionID, candidateID, at.UnixNano())
	return crypto.Keccak256Hash([]byte(payload))
}

// CommitmentHex renders a commitment the way receipts carry it.
func CommitmentHex(c [32]byte) string {
	return hexutil.Encode(c[:])
}

// ParseTxID validates a 0x-prefixed 32-byte transaction hash.
func ParseTxID(txID string) (common.Hash, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(txID))
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidTransaction, txID)
	}
	return common.BytesToHash(raw), nil
}

// Disabled stands in when no ledger endpoint is configured. Every write and
// probe reports ErrUnavailable.
type Disabled struct{}

func (Disabled) HealthCheck(context.Context) error {
	return fmt.Errorf("%w: no RPC endpoint configured", ErrUnavailable)
}

func (Disabled) Submit(context.Context, [32]byte) (string, error) {
	return "", fmt.Errorf("%w: no RPC endpoint configured", ErrUnavailable)
}

func (Disabled) AwaitConfirmation(context.Context, string) (*Confirmation, error) {
	return nil, fmt.Errorf("%w: no RPC endpoint configured", ErrUnavailable)
}

func (Disabled) Receipt(context.Context, string) (*Receipt, error) {
	return nil, fmt.Errorf("%w: no RPC endpoint configured", ErrUnavailable)
}

func (Disabled) ContractAddress() string { return "" }

func (Disabled) Close() {}
