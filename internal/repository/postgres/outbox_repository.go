package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"civic-shield/internal/models"
	"civic-shield/internal/schema"
)

const outboxColumns = `id::text AS id, voter_id, voter_uid, election_id, candidate_id, commitment,
	tx_id, block_number, status, attempts, last_error, created_at, updated_at`

// OutboxRepository persists vote_outbox, the durable record of submitted votes
// whose relational mirror is not yet written.
type OutboxRepository struct {
	exec schema.Executor
	now  func() time.Time
}

func NewOutboxRepository(exec schema.Executor) *OutboxRepository {
	return &OutboxRepository{exec: exec, now: time.Now}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, e *models.OutboxEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := r.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	_, err := r.exec.Exec(ctx, `INSERT INTO vote_outbox
		(id, voter_id, voter_uid, election_id, candidate_id, commitment, tx_id, block_number,
		 status, attempts, last_error, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID.String(), e.VoterID, e.VoterUID, e.ElectionID, e.CandidateID, e.Commitment, e.TxID,
		int64(e.BlockNumber), e.Status, e.Attempts, e.LastError, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	return nil
}

// Update persists transaction id, status, block, attempts and last error.
func (r *OutboxRepository) Update(ctx context.Context, e *models.OutboxEntry) error {
	e.UpdatedAt = r.now().UTC()
	n, err := r.exec.Exec(ctx, `UPDATE vote_outbox
		SET tx_id = $2, status = $3, block_number = $4, attempts = $5, last_error = $6, updated_at = $7
		WHERE id = $1::uuid`,
		e.ID.String(), e.TxID, e.Status, int64(e.BlockNumber), e.Attempts, e.LastError, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update outbox entry %s: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("outbox entry %s: %w", e.ID, schema.ErrRowNotFound)
	}
	return nil
}

// OpenForVoter returns the voter's unfinished entry, or nil.
func (r *OutboxRepository) OpenForVoter(ctx context.Context, voterID int64) (*models.OutboxEntry, error) {
	rows, err := r.exec.Query(ctx, `SELECT `+outboxColumns+` FROM vote_outbox
		WHERE voter_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`,
		voterID, models.OutboxAwaitingConfirmation, models.OutboxPendingMirror)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return entryFromRow(rows[0])
}

// Pending lists unfinished entries untouched since before olderThan, oldest
// first, that have not exhausted maxAttempts.
func (r *OutboxRepository) Pending(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]*models.OutboxEntry, error) {
	rows, err := r.exec.Query(ctx, `SELECT `+outboxColumns+` FROM vote_outbox
		WHERE status IN ($1, $2) AND attempts < $3 AND updated_at < $4
		ORDER BY created_at LIMIT $5`,
		models.OutboxAwaitingConfirmation, models.OutboxPendingMirror, maxAttempts, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending outbox entries: %w", err)
	}

	out := make([]*models.OutboxEntry, 0, len(rows))
	for _, row := range rows {
		e, err := entryFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func entryFromRow(row schema.Row) (*models.OutboxEntry, error) {
	id, err := uuid.Parse(row.String("id"))
	if err != nil {
		return nil, fmt.Errorf("invalid outbox id %q: %w", row.String("id"), err)
	}
	voterID, _ := row.Int64("voter_id")
	block, _ := row.Int64("block_number")
	attempts, _ := row.Int64("attempts")

	e := &models.OutboxEntry{
		ID:          id,
		VoterID:     voterID,
		VoterUID:    row.String("voter_uid"),
		ElectionID:  row.String("election_id"),
		CandidateID: row.String("candidate_id"),
		Commitment:  row.String("commitment"),
		TxID:        row.String("tx_id"),
		BlockNumber: uint64(block),
		Status:      row.String("status"),
		Attempts:    int(attempts),
		LastError:   row.String("last_error"),
	}
	if t := row.Time("created_at"); t != nil {
		e.CreatedAt = *t
	}
	if t := row.Time("updated_at"); t != nil {
		e.UpdatedAt = *t
	}
	return e, nil
}
