package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"civic-shield/internal/config"
	"civic-shield/internal/ledger"
	"civic-shield/internal/models"
	"civic-shield/internal/schema"
)

// CastRequest is one voter's ballot submission.
type CastRequest struct {
	VoterUID    string `json:"voter_id"`
	ElectionID  string `json:"election_id"`
	CandidateID string `json:"candidate_id"`
	PIN         string `json:"pin"`
}

// VoteService commits votes to the ledger and mirrors confirmed votes into
// the relational store. A ledger confirmation is success; the mirror never
// fails a cast.
type VoteService struct {
	voters    VoterStore
	votes     VoteStore
	outbox    OutboxStore
	registry  CastRegistry
	pins      *PINGuard
	ledger    Ledger
	events    *VoteEvents
	audit     AuditRecorder
	locks     Locker
	ledgerCfg config.LedgerConfig
	castTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewVoteService(
	voters VoterStore,
	votes VoteStore,
	outbox OutboxStore,
	registry CastRegistry,
	pins *PINGuard,
	ledger Ledger,
	events *VoteEvents,
	audit AuditRecorder,
	locks Locker,
	cfg *config.Config,
	logger *zap.Logger,
) *VoteService {
	return &VoteService{
		voters:    voters,
		votes:     votes,
		outbox:    outbox,
		registry:  registry,
		pins:      pins,
		ledger:    ledger,
		events:    events,
		audit:     audit,
		locks:     locks,
		ledgerCfg: cfg.Ledger,
		castTTL:   cfg.Guard.CastLockTTL,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *VoteService) event(ctx context.Context, eventType, voterUID, details string) {
	s.audit.Record(ctx, models.SecurityEvent{
		EventType: eventType,
		SubjectID: voterUID,
		Bucket:    s.locks.Bucket(voterUID),
		Details:   details,
	})
}

// Cast runs validation, ledger submission, confirmation and the mirror write.
func (s *VoteService) Cast(ctx context.Context, req *CastRequest) (*models.VoteReceipt, error) {
	req.VoterUID = strings.TrimSpace(req.VoterUID)
	req.ElectionID = strings.TrimSpace(req.ElectionID)
	req.CandidateID = strings.TrimSpace(req.CandidateID)
	if req.VoterUID == "" || req.ElectionID == "" || req.CandidateID == "" || req.PIN == "" {
		return nil, invalidInput("voter id, election id, candidate id and PIN are required")
	}

	acquired, err := s.registry.Acquire(ctx, req.VoterUID, s.castTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to claim cast slot: %w", err)
	}
	if !acquired {
		return nil, ErrVoteInProgress
	}
	// hold keeps the slot claimed until its TTL runs out when the outcome of
	// a submitted transaction could not be recorded.
	hold := false
	defer func() {
		if hold {
			s.logger.Warn("Holding cast slot for unrecorded outcome", zap.String("voter_id", req.VoterUID))
			return
		}
		if err := s.registry.Release(context.WithoutCancel(ctx), req.VoterUID); err != nil {
			s.logger.Warn("Failed to release cast slot", zap.String("voter_id", req.VoterUID), zap.Error(err))
		}
	}()

	if err := s.checkEligible(ctx, req.VoterUID); err != nil {
		return nil, err
	}

	voter, err := s.pins.Verify(ctx, req.VoterUID, req.PIN)
	if err != nil {
		return nil, err
	}

	// The ledger wait outlives the client; a disconnect must not strand a
	// submitted transaction.
	lctx := context.WithoutCancel(ctx)
	if s.ledgerCfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(lctx, s.ledgerCfg.ConfirmTimeout)
		defer cancel()
	}

	entry, err := s.submit(lctx, voter, req)
	if err != nil {
		s.event(ctx, models.EventVoteFailed, voter.UID, err.Error())
		return nil, err
	}

	conf, err := s.ledger.AwaitConfirmation(lctx, entry.TxID)
	if err != nil {
		recorded, out := s.confirmationFailed(context.WithoutCancel(ctx), entry, err)
		hold = !recorded
		return nil, out
	}
	entry.BlockNumber = conf.BlockNumber

	mirrored := s.mirror(context.WithoutCancel(ctx), entry)

	receipt := &models.VoteReceipt{
		Commitment:    entry.Commitment,
		TransactionID: entry.TxID,
		BlockNumber:   conf.BlockNumber,
		Mirrored:      mirrored,
		CastAt:        entry.CreatedAt,
	}

	s.logger.Info("Vote confirmed",
		zap.String("voter_id", voter.UID),
		zap.String("tx_id", entry.TxID),
		zap.Uint64("block", conf.BlockNumber),
		zap.Bool("mirrored", mirrored))
	s.event(ctx, models.EventVoteConfirmed, voter.UID, auditDetails("tx=%s block=%d", entry.TxID, conf.BlockNumber))
	s.events.PublishVoteConfirmed(context.WithoutCancel(ctx), VoteConfirmedEvent{
		ElectionID:    req.ElectionID,
		Commitment:    entry.Commitment,
		TransactionID: entry.TxID,
		BlockNumber:   conf.BlockNumber,
		Mirrored:      mirrored,
		ConfirmedAt:   s.now().UTC(),
	})
	return receipt, nil
}

// checkEligible rejects voters who have voted or whose earlier cast is still
// unresolved.
func (s *VoteService) checkEligible(ctx context.Context, voterUID string) error {
	voter, err := s.voters.FindByUID(ctx, voterUID)
	if err != nil {
		if errors.Is(err, schema.ErrRowNotFound) {
			return ErrVoterNotFound
		}
		return err
	}
	if voter.HasVoted {
		return ErrAlreadyVoted
	}

	txID, err := s.registry.CastTx(ctx, voter.ID)
	if err != nil {
		return fmt.Errorf("failed to read cast registry: %w", err)
	}
	if txID != "" {
		return ErrAlreadyVoted
	}

	open, err := s.outbox.OpenForVoter(ctx, voter.ID)
	if err != nil {
		return err
	}
	if open != nil {
		if open.Status == models.OutboxPendingMirror {
			return ErrAlreadyVoted
		}
		return ErrVoteInProgress
	}
	return nil
}

// submit records the vote intent in the outbox before the ledger sees it, so
// every transaction that may exist is tracked and blocks a second cast. No
// transaction is sent when the intent cannot be written.
func (s *VoteService) submit(ctx context.Context, voter *models.Voter, req *CastRequest) (*models.OutboxEntry, error) {
	if err := s.ledger.HealthCheck(ctx); err != nil {
		s.logger.Error("Ledger unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	submittedAt := s.now().UTC()
	commitment := ledger.Commitment(voter.ID, req.ElectionID, req.CandidateID, submittedAt)

	entry := &models.OutboxEntry{
		VoterID:     voter.ID,
		VoterUID:    voter.UID,
		ElectionID:  req.ElectionID,
		CandidateID: req.CandidateID,
		Commitment:  ledger.CommitmentHex(commitment),
		Status:      models.OutboxAwaitingConfirmation,
	}
	if err := s.outbox.Enqueue(ctx, entry); err != nil {
		s.logger.Error("Failed to record vote intent", zap.String("voter_id", voter.UID), zap.Error(err))
		return nil, fmt.Errorf("failed to record vote intent: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = submittedAt
	}

	txID, err := s.ledger.Submit(ctx, commitment)
	if err != nil {
		entry.Status = models.OutboxAbandoned
		entry.LastError = err.Error()
		if uerr := s.outbox.Update(context.WithoutCancel(ctx), entry); uerr != nil {
			s.logger.Error("Failed to abandon vote intent", zap.String("voter_id", voter.UID), zap.Error(uerr))
		}
		return nil, ledgerError(err)
	}

	entry.TxID = txID
	if err := s.outbox.Update(ctx, entry); err != nil {
		// The open intent still blocks a retry; the reconciler abandons it
		// once no transaction turns up.
		s.logger.Error("Failed to record transaction id in outbox",
			zap.String("voter_id", voter.UID),
			zap.String("tx_id", txID),
			zap.Error(err))
	}
	return entry, nil
}

// confirmationFailed settles the outbox entry for a failed wait. A reverted
// transaction frees the voter to retry; an unresolved one stays with the
// reconciler. It reports whether the outcome reached the outbox.
func (s *VoteService) confirmationFailed(ctx context.Context, entry *models.OutboxEntry, err error) (bool, error) {
	out := ledgerError(err)
	entry.LastError = err.Error()
	if errors.Is(out, ErrLedgerRejected) {
		entry.Status = models.OutboxAbandoned
	}
	recorded := true
	if uerr := s.outbox.Update(ctx, entry); uerr != nil {
		recorded = false
		s.logger.Error("Failed to record unconfirmed vote", zap.String("tx_id", entry.TxID), zap.Error(uerr))
	}

	s.logger.Warn("Vote not confirmed",
		zap.String("voter_id", entry.VoterUID),
		zap.String("tx_id", entry.TxID),
		zap.Error(err))
	s.event(ctx, models.EventVoteFailed, entry.VoterUID, err.Error())
	return recorded, out
}

func ledgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrRejected):
		return fmt.Errorf("%w: %v", ErrLedgerRejected, err)
	default:
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
}

// mirror records a confirmed vote everywhere it is tracked. It is idempotent
// and reports whether every step succeeded. Failures are kept on the outbox
// entry for the reconciler.
func (s *VoteService) mirror(ctx context.Context, entry *models.OutboxEntry) bool {
	var errs []error

	if err := s.registry.MarkCast(ctx, entry.VoterID, entry.TxID); err != nil {
		errs = append(errs, fmt.Errorf("cast registry: %w", err))
	}

	if entry.Status == models.OutboxAwaitingConfirmation {
		entry.Status = models.OutboxPendingMirror
		if err := s.outbox.Update(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("outbox: %w", err))
		}
	}

	if err := s.voters.MarkVoted(ctx, entry.VoterID); err != nil {
		errs = append(errs, fmt.Errorf("has_voted: %w", err))
	}

	if _, err := s.votes.InsertVoteIfAbsent(ctx, &models.Vote{
		VoterID:     entry.VoterID,
		ElectionID:  entry.ElectionID,
		CandidateID: entry.CandidateID,
	}); err != nil {
		errs = append(errs, fmt.Errorf("vote row: %w", err))
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		entry.Attempts++
		entry.LastError = err.Error()
		if uerr := s.outbox.Update(ctx, entry); uerr != nil {
			s.logger.Error("Failed to record mirror failure", zap.String("tx_id", entry.TxID), zap.Error(uerr))
		}
		s.logger.Error("Mirror write failed after ledger confirmation",
			zap.String("voter_id", entry.VoterUID),
			zap.String("tx_id", entry.TxID),
			zap.Error(err))
		s.event(ctx, models.EventMirrorFailed, entry.VoterUID, err.Error())
		return false
	}

	entry.Status = models.OutboxDone
	entry.LastError = ""
	if err := s.outbox.Update(ctx, entry); err != nil {
		s.logger.Warn("Failed to close outbox entry", zap.String("tx_id", entry.TxID), zap.Error(err))
	}
	return true
}

// VerifyTransaction reports whether txID is a successful transaction to the
// configured contract.
func (s *VoteService) VerifyTransaction(ctx context.Context, txID string) (*models.VoteVerification, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, invalidInput("transaction hash is required")
	}

	r, err := s.ledger.Receipt(ctx, txID)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidTransaction) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	out := &models.VoteVerification{TransactionID: txID}
	if r == nil {
		return out, nil
	}
	out.Verified = r.Success && r.To != "" && strings.EqualFold(r.To, s.ledger.ContractAddress())
	if out.Verified {
		out.BlockNumber = r.BlockNumber
	}
	return out, nil
}

func (s *VoteService) Results(ctx context.Context, electionID string) ([]models.CandidateResult, error) {
	electionID = strings.TrimSpace(electionID)
	if electionID == "" {
		return nil, invalidInput("election id is required")
	}
	return s.votes.Results(ctx, electionID)
}

func (s *VoteService) Candidates(ctx context.Context, electionID string) ([]schema.Row, error) {
	electionID = strings.TrimSpace(electionID)
	if electionID == "" {
		return nil, invalidInput("election id is required")
	}
	return s.votes.CandidatesForElection(ctx, electionID)
}
