package postgres

import (
	"context"
	"errors"
	"fmt"

	"civic-shield/internal/models"
	"civic-shield/internal/schema"
)

const candidateListLimit = 500

// VoteRepository owns the relational vote mirror and the ballot queries.
type VoteRepository struct {
	resolver *schema.Resolver
	reader   *schema.Reader
	writer   *schema.Writer
	exec     schema.Executor
}

func NewVoteRepository(resolver *schema.Resolver, reader *schema.Reader, writer *schema.Writer, exec schema.Executor) *VoteRepository {
	return &VoteRepository{resolver: resolver, reader: reader, writer: writer, exec: exec}
}

// InsertVoteIfAbsent writes the vote row unless one already references the
// voter. Concurrent calls for one voter are serialized by an advisory lock.
func (r *VoteRepository) InsertVoteIfAbsent(ctx context.Context, v *models.Vote) (bool, error) {
	m, err := r.resolver.Resolve(ctx, schema.Votes)
	if err != nil {
		return false, err
	}

	inserted := false
	err = r.exec.InTx(ctx, func(tx schema.Executor) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", v.VoterID); err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			fmt.Sprintf("SELECT 1 AS present FROM %s WHERE %s = $1 LIMIT 1",
				m.QuotedTable(), m.Quoted(schema.FieldVoterID)),
			v.VoterID)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			return nil
		}

		row := schema.Row{}
		m.Set(row, schema.FieldVoterID, v.VoterID)
		m.Set(row, schema.FieldElectionID, schema.NormalizeID(v.ElectionID))
		m.Set(row, schema.FieldCandidateID, schema.NormalizeID(v.CandidateID))
		if _, err := r.writer.WithExecutor(tx).Insert(ctx, m, row); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to write vote row: %w", err)
	}
	return inserted, nil
}

// Results tallies mirror rows per candidate of an election.
func (r *VoteRepository) Results(ctx context.Context, electionID any) ([]models.CandidateResult, error) {
	cm, err := r.resolver.Resolve(ctx, schema.Candidates)
	if err != nil {
		return nil, err
	}
	vm, err := r.resolver.Resolve(ctx, schema.Votes)
	if err != nil {
		return nil, err
	}

	party := "NULL"
	if cm.Has(schema.FieldParty) {
		party = "c." + cm.Quoted(schema.FieldParty)
	}
	name := "NULL"
	if cm.Has(schema.FieldName) {
		name = "c." + cm.Quoted(schema.FieldName)
	}

	query := fmt.Sprintf(`SELECT c.%[1]s AS candidate_id, %[2]s AS name, %[3]s AS party,
		COUNT(v.%[4]s) AS total_votes
		FROM %[5]s c
		LEFT JOIN %[6]s v ON v.%[7]s = c.%[1]s AND v.%[8]s = c.%[9]s
		WHERE c.%[9]s = $1
		GROUP BY 1, 2, 3
		ORDER BY total_votes DESC, 1`,
		cm.Quoted(schema.FieldID), name, party,
		vm.Quoted(schema.FieldVoterID),
		cm.QuotedTable(), vm.QuotedTable(),
		vm.Quoted(schema.FieldCandidateID), vm.Quoted(schema.FieldElectionID),
		cm.Quoted(schema.FieldElectionID),
	)

	rows, err := r.exec.Query(ctx, query, schema.NormalizeID(electionID))
	if err != nil {
		return nil, fmt.Errorf("failed to tally results: %w", err)
	}

	results := make([]models.CandidateResult, 0, len(rows))
	for _, row := range rows {
		total, _ := row.Int64("total_votes")
		results = append(results, models.CandidateResult{
			CandidateID: row["candidate_id"],
			Name:        row.String("name"),
			Party:       row.String("party"),
			TotalVotes:  total,
		})
	}
	return results, nil
}

// CandidatesForElection lists the ballot for an election.
func (r *VoteRepository) CandidatesForElection(ctx context.Context, electionID any) ([]schema.Row, error) {
	m, err := r.resolver.Resolve(ctx, schema.Candidates)
	if err != nil {
		return nil, err
	}

	rows, err := r.reader.List(ctx, m, schema.ListOptions{
		Fields: []schema.Field{
			schema.FieldID, schema.FieldName, schema.FieldParty, schema.FieldPartyLogo,
			schema.FieldElectionID, schema.FieldConstituencyID,
		},
		Filters: map[schema.Field]any{
			schema.FieldElectionID: schema.NormalizeID(electionID),
			schema.FieldIsActive:   true,
		},
		Limit: candidateListLimit,
	})
	if err != nil && !errors.Is(err, schema.ErrRowNotFound) {
		return nil, err
	}
	return rows, nil
}
