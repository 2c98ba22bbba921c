package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"civic-shield/internal/models"
	"civic-shield/internal/schema"
	"civic-shield/internal/util"
)

var voterFields = []schema.Field{
	schema.FieldID, schema.FieldVoterUID, schema.FieldName, schema.FieldPhone, schema.FieldPIN,
	schema.FieldHasVoted, schema.FieldPINAttempts, schema.FieldAccountStatus, schema.FieldLockTime,
	schema.FieldIsActive, schema.FieldConstituencyID,
}

// VoterRepository reads and writes the guard-relevant voter columns.
type VoterRepository struct {
	resolver *schema.Resolver
	reader   *schema.Reader
	writer   *schema.Writer
}

func NewVoterRepository(resolver *schema.Resolver, reader *schema.Reader, writer *schema.Writer) *VoterRepository {
	return &VoterRepository{resolver: resolver, reader: reader, writer: writer}
}

// FindByUID returns schema.ErrRowNotFound when no voter has uid.
func (r *VoterRepository) FindByUID(ctx context.Context, uid string) (*models.Voter, error) {
	m, err := r.resolver.Resolve(ctx, schema.Voters)
	if err != nil {
		return nil, err
	}

	row, err := r.reader.FindOne(ctx, m, schema.ListOptions{
		Fields:  voterFields,
		Filters: map[schema.Field]any{schema.FieldVoterUID: uid},
	})
	if err != nil {
		return nil, err
	}
	return voterFromRow(row)
}

func voterFromRow(row schema.Row) (*models.Voter, error) {
	id, ok := row.Int64(string(schema.FieldID))
	if !ok {
		return nil, fmt.Errorf("voter row has non-numeric id %v", row[string(schema.FieldID)])
	}
	attempts, _ := row.Int64(string(schema.FieldPINAttempts))

	v := &models.Voter{
		ID:            id,
		UID:           row.String(string(schema.FieldVoterUID)),
		Name:          row.String(string(schema.FieldName)),
		Phone:         row.String(string(schema.FieldPhone)),
		PIN:           row.String(string(schema.FieldPIN)),
		HasVoted:      row.Bool(string(schema.FieldHasVoted), false),
		PINAttempts:   int(attempts),
		AccountStatus: row.String(string(schema.FieldAccountStatus)),
		LockTime:      row.Time(string(schema.FieldLockTime)),
		IsActive:      row.Bool(string(schema.FieldIsActive), true),
	}
	if v.AccountStatus == "" {
		v.AccountStatus = models.AccountActive
	}
	if cid, ok := row.Int64(string(schema.FieldConstituencyID)); ok {
		v.ConstituencyID = &cid
	}
	return v, nil
}

// SavePINState persists attempts, status and lock time in one statement.
func (r *VoterRepository) SavePINState(ctx context.Context, v *models.Voter) error {
	m, err := r.resolver.Resolve(ctx, schema.Voters)
	if err != nil {
		return err
	}

	row := schema.Row{}
	m.SetNull(row, schema.FieldPINAttempts, v.PINAttempts)
	m.SetNull(row, schema.FieldAccountStatus, v.AccountStatus)
	m.SetNull(row, schema.FieldLockTime, v.LockTime)

	if _, err := r.writer.Update(ctx, m, v.ID, row); err != nil {
		util.Error("Failed to persist PIN state",
			zap.String("voter_id", v.UID),
			zap.Error(err))
		return fmt.Errorf("failed to persist PIN state: %w", err)
	}
	return nil
}

// MarkVoted sets has_voted. It is the only write path for the flag.
func (r *VoterRepository) MarkVoted(ctx context.Context, voterID int64) error {
	m, err := r.resolver.Resolve(ctx, schema.Voters)
	if err != nil {
		return err
	}

	row := schema.Row{}
	m.Set(row, schema.FieldHasVoted, true)
	if _, err := r.writer.Update(ctx, m, voterID, row); err != nil {
		return fmt.Errorf("failed to mark voter %d as voted: %w", voterID, err)
	}
	return nil
}
