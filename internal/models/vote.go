package models

import (
	"time"

	"github.com/google/uuid"
)

type Vote struct {
	VoterID     int64       `json:"voter_id"`
	ElectionID  interface{} `json:"election_id"`
	CandidateID interface{} `json:"candidate_id"`
}

// VoteReceipt is handed back to the voter once the ledger confirms.
type VoteReceipt struct {
	Commitment    string    `json:"receipt_hash"`
	TransactionID string    `json:"transaction_hash"`
	BlockNumber   uint64    `json:"block_number"`
	Mirrored      bool      `json:"mirrored"`
	CastAt        time.Time `json:"cast_at"`
}

type VoteVerification struct {
	TransactionID string `json:"transaction_hash"`
	Verified      bool   `json:"verified"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
}

const (
	OutboxAwaitingConfirmation = "awaiting_confirmation"
	OutboxPendingMirror        = "pending_mirror"
	OutboxDone                 = "done"
	OutboxAbandoned            = "abandoned"
)

// OutboxEntry tracks a submitted vote until its relational mirror is written.
type OutboxEntry struct {
	ID          uuid.UUID `json:"id"`
	VoterID     int64     `json:"voter_id"`
	VoterUID    string    `json:"voter_uid"`
	ElectionID  string    `json:"election_id"`
	CandidateID string    `json:"candidate_id"`
	Commitment  string    `json:"commitment"`
	TxID        string    `json:"tx_id"`
	BlockNumber uint64    `json:"block_number"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e *OutboxEntry) Open() bool {
	return e.Status == OutboxAwaitingConfirmation || e.Status == OutboxPendingMirror
}
