package service

import (
	"context"
	"time"

	"civic-shield/internal/ledger"
	"civic-shield/internal/models"
	"civic-shield/internal/schema"
)

// VoterStore is the guard-relevant persistence of voters.
type VoterStore interface {
	FindByUID(ctx context.Context, uid string) (*models.Voter, error)
	SavePINState(ctx context.Context, v *models.Voter) error
	MarkVoted(ctx context.Context, voterID int64) error
}

// VoteStore holds the relational vote mirror and ballot queries.
type VoteStore interface {
	InsertVoteIfAbsent(ctx context.Context, v *models.Vote) (bool, error)
	Results(ctx context.Context, electionID any) ([]models.CandidateResult, error)
	CandidatesForElection(ctx context.Context, electionID any) ([]schema.Row, error)
}

type OutboxStore interface {
	Enqueue(ctx context.Context, e *models.OutboxEntry) error
	Update(ctx context.Context, e *models.OutboxEntry) error
	OpenForVoter(ctx context.Context, voterID int64) (*models.OutboxEntry, error)
	Pending(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]*models.OutboxEntry, error)
}

type AdminStore interface {
	FindByEmployeeID(ctx context.Context, employeeID string) (*models.AdminAccount, error)
}

// Ledger is the external append-only store of vote commitments.
type Ledger interface {
	HealthCheck(ctx context.Context) error
	Submit(ctx context.Context, commitment [32]byte) (string, error)
	AwaitConfirmation(ctx context.Context, txID string) (*ledger.Confirmation, error)
	Receipt(ctx context.Context, txID string) (*ledger.Receipt, error)
	ContractAddress() string
}

// CredentialHasher verifies and produces stored PINs and passwords.
type CredentialHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, stored string) (bool, error)
}

// AuditRecorder receives security events. Implementations must not block.
type AuditRecorder interface {
	Record(ctx context.Context, e models.SecurityEvent)
}

// OTPSender delivers a freshly issued code to the voter.
type OTPSender interface {
	Send(ctx context.Context, voterUID, code string) error
}

// Locker serializes work per key.
type Locker interface {
	Lock(key string) (unlock func())
	Bucket(key string) int
}

// CastRegistry marks in-flight and ledger-confirmed casts per voter.
type CastRegistry interface {
	Acquire(ctx context.Context, voterUID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, voterUID string) error
	MarkCast(ctx context.Context, voterID int64, txID string) error
	CastTx(ctx context.Context, voterID int64) (string, error)
	Clear(ctx context.Context, voterID int64) error
}

// SessionStore keeps admin sessions by token.
type SessionStore interface {
	Create(ctx context.Context, s *models.AdminSession) error
	Get(ctx context.Context, token string) (*models.AdminSession, error)
	Delete(ctx context.Context, token string) error
}
