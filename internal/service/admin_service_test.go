package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"civic-shield/internal/hashing"
	"civic-shield/internal/models"
	"civic-shield/internal/repository/cache"
	"civic-shield/internal/schema"
)

type stubCatalog struct {
	tables   map[string][]string
	required map[string][]string
}

func (c *stubCatalog) Columns(_ context.Context, table string) ([]string, error) {
	return c.tables[table], nil
}

func (c *stubCatalog) TablesLike(context.Context, string) ([]string, error) {
	return nil, nil
}

func (c *stubCatalog) RequiredColumns(_ context.Context, table string) ([]string, error) {
	return c.required[table], nil
}

// tableExecutor fakes inserts by echoing the written columns back with a
// generated id. Updates are recorded and echo the id only.
type tableExecutor struct {
	mu         sync.Mutex
	inserted   []schema.Row
	updates    []string
	updateArgs [][]any
	execs      []string
	uniques    map[string]bool
	deleted    int64
	insertErr  error
}

func insertColumns(sql string) []string {
	start := strings.Index(sql, "(")
	end := strings.Index(sql, ")")
	parts := strings.Split(sql[start+1:end], ", ")
	for i, p := range parts {
		parts[i] = strings.Trim(p, `"`)
	}
	return parts
}

func (e *tableExecutor) Query(_ context.Context, sql string, args ...any) ([]schema.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if strings.HasPrefix(sql, "UPDATE") {
		e.updates = append(e.updates, sql)
		e.updateArgs = append(e.updateArgs, args)
		return []schema.Row{{"id": args[len(args)-1]}}, nil
	}
	if !strings.HasPrefix(sql, "INSERT") {
		return nil, nil
	}
	if e.insertErr != nil {
		return nil, e.insertErr
	}
	row := schema.Row{}
	for i, col := range insertColumns(sql) {
		row[col] = args[i]
	}
	if uid, ok := row["voter_uid"].(string); ok {
		if e.uniques[uid] {
			return nil, &schema.ConstraintError{Kind: schema.ConstraintDuplicate, Table: "voters", Constraint: "voters_voter_uid_key"}
		}
		e.uniques[uid] = true
	}
	row["id"] = int64(len(e.inserted) + 1)
	e.inserted = append(e.inserted, row)
	return []schema.Row{row}, nil
}

func (e *tableExecutor) Exec(_ context.Context, sql string, _ ...any) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execs = append(e.execs, sql)
	return e.deleted, nil
}

func (e *tableExecutor) InTx(_ context.Context, fn func(schema.Executor) error) error {
	return fn(e)
}

func newAdminService(t *testing.T, hash bool) (*AdminService, *tableExecutor, *recordingAudit) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	catalog := &stubCatalog{
		tables: map[string][]string{
			"voters": {"id", "voter_uid", "voter_name", "full_name", "phone_number", "secret_pin",
				"constituency_id", "is_active", "has_voted", "pin_attempts", "account_status", "lock_time"},
			"votes":          {"id", "voter_id", "election_id", "candidate_id"},
			"vote_outbox":    {"id", "voter_id", "voter_uid", "tx_id", "status"},
			"elections":      {"id", "election_name", "title", "description", "start_time", "end_time", "status", "metadata"},
			"constituencies": {"id", "name", "state", "is_active"},
			"candidates":     {"id", "candidate_name", "party_name", "election_id", "constituency_id", "is_active"},
		},
		required: map[string][]string{
			"voters":         {"voter_uid", "phone_number", "secret_pin"},
			"constituencies": {"name"},
			"candidates":     {"election_id"},
		},
	}
	exec := &tableExecutor{uniques: make(map[string]bool), deleted: 4}
	resolver := schema.NewResolver(catalog, 0, logger)
	audit := &recordingAudit{}
	svc := NewAdminService(resolver, schema.NewReader(exec), schema.NewWriter(exec, resolver, logger), testHasher(), hash, cache.NewVoteRegistry(cache.NewMemoryStore()), audit, logger)
	return svc, exec, audit
}

func TestCreateVoterHashesPIN(t *testing.T) {
	svc, exec, _ := newAdminService(t, true)

	row, err := svc.CreateVoter(context.Background(), &VoterInput{
		VoterUID: "V-100",
		FullName: "Ravi Kumar",
		Phone:    "9000000001",
		PIN:      "2468",
	})
	require.NoError(t, err)
	assert.Equal(t, "V-100", row["voter_uid"])
	assert.NotContains(t, row, "pin")

	require.Len(t, exec.inserted, 1)
	stored := exec.inserted[0]
	assert.True(t, hashing.IsHashed(stored.String("secret_pin")))
	assert.Equal(t, "Ravi Kumar", stored["voter_name"])
	assert.Equal(t, false, stored["has_voted"])
	assert.Equal(t, 0, stored["pin_attempts"])
	assert.Equal(t, models.AccountActive, stored["account_status"])
	assert.Equal(t, true, stored["is_active"])

	_, err = svc.CreateVoter(context.Background(), &VoterInput{VoterUID: "V-100", Phone: "1", PIN: "1"})
	assert.ErrorIs(t, err, schema.ErrDuplicate)
	assert.EqualError(t, err, "voter already exists")
}

func TestCreateVoterMissingRequired(t *testing.T) {
	svc, _, _ := newAdminService(t, false)

	_, err := svc.CreateVoter(context.Background(), &VoterInput{VoterUID: "V-1"})
	var missing *schema.MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.ElementsMatch(t, []string{"phone_number", "secret_pin"}, missing.Columns)

	_, err = svc.CreateVoter(context.Background(), &VoterInput{VoterUID: "V-1", Phone: "1", PIN: "1", ConstituencyID: "north"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteAllVotersNeedsConfirmation(t *testing.T) {
	svc, exec, audit := newAdminService(t, false)

	_, err := svc.DeleteAllVoters(context.Background(), false, "EMP-1")
	assert.ErrorIs(t, err, ErrConfirmNeeded)
	assert.Empty(t, exec.execs)

	n, err := svc.DeleteAllVoters(context.Background(), true, "EMP-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, []string{`DELETE FROM "votes"`, `DELETE FROM "vote_outbox"`, `DELETE FROM "voters"`}, exec.execs)
	assert.Contains(t, audit.types(), models.EventVotersPurged)
}

func TestDeleteVoterClearsOutboxAndMarker(t *testing.T) {
	svc, exec, _ := newAdminService(t, false)
	ctx := context.Background()
	require.NoError(t, svc.casts.MarkCast(ctx, 12, "0xabc"))

	require.NoError(t, svc.DeleteVoter(ctx, "12"))
	assert.Equal(t, []string{
		`DELETE FROM "vote_outbox" WHERE "voter_id" = $1`,
		`DELETE FROM "voters" WHERE "id" = $1`,
	}, exec.execs)

	tx, err := svc.casts.CastTx(ctx, 12)
	require.NoError(t, err)
	assert.Empty(t, tx)
}

func TestImportVoters(t *testing.T) {
	svc, exec, _ := newAdminService(t, false)

	records, err := ParseVoterCSV(strings.NewReader(
		"Voter ID,Voter Name,Phone Number,Secret PIN,Constituency,Has Voted\n" +
			"V-1,Asha,900001,1111,12,true\n" +
			"V-2,Bala,,2222,north,false\n" +
			"V-1,Asha Again,900003,3333,,\n" +
			"V-4,Devi,900004,4444\n"))
	require.NoError(t, err)
	require.Len(t, records, 4)

	report, err := svc.ImportVoters(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Errors, 2)

	assert.Equal(t, 3, report.Errors[0].Row)
	assert.Contains(t, report.Errors[0].Reason, "missing required columns: phone_number")
	assert.Equal(t, 4, report.Errors[1].Row)
	assert.Equal(t, "voter V-1 already exists", report.Errors[1].Reason)

	require.Len(t, exec.inserted, 2)
	first := exec.inserted[0]
	assert.Equal(t, false, first["has_voted"])
	assert.Equal(t, int64(12), first["constituency_id"])
	assert.Equal(t, "Asha", first["full_name"])
	assert.NotContains(t, exec.inserted[1], "constituency_id")
}

func TestImportVotersEmpty(t *testing.T) {
	svc, _, _ := newAdminService(t, false)
	_, err := svc.ImportVoters(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParseVoterCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNormalizeRecord(t *testing.T) {
	fields, err := normalizeRecord(map[string]any{
		"Voter's UID":    " V-9 ",
		"Full Name":      "Meera",
		"Mobile Number":  "9000",
		"PIN":            "1234",
		"Active":         "no",
		"Account Status": "locked",
		"Lock Time":      "2026-01-02 10:00:00",
		"has_voted":      "yes",
	})
	require.NoError(t, err)

	assert.Equal(t, "V-9", fields[schema.FieldVoterUID])
	assert.Equal(t, "Meera", fields[schema.FieldName])
	assert.Equal(t, "9000", fields[schema.FieldPhone])
	assert.Equal(t, false, fields[schema.FieldIsActive])
	assert.Equal(t, false, fields[schema.FieldHasVoted])
	assert.Equal(t, 0, fields[schema.FieldPINAttempts])
	assert.Equal(t, "locked", fields[schema.FieldAccountStatus])
	assert.NotNil(t, fields[schema.FieldLockTime])

	_, err = normalizeRecord(map[string]any{"voter_id": "V-1", "lock_time": "soon"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = normalizeRecord(map[string]any{"voter_id": "V-1", "full_name": "<img src=x onerror=alert(1)>"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "full name contains disallowed characters")

	fields, err = normalizeRecord(map[string]any{"voter_id": "V-1", "pin": "<1>"})
	require.NoError(t, err)
	assert.Equal(t, "<1>", fields[schema.FieldPIN])
}

func TestVoterWritesRejectMarkup(t *testing.T) {
	svc, exec, _ := newAdminService(t, false)
	ctx := context.Background()

	_, err := svc.CreateVoter(ctx, &VoterInput{VoterUID: "V-1", Phone: "1", PIN: "1", Address: "{{.Secret}}"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.UpdateVoter(ctx, "3", &VoterPatch{Name: models.Optional[string]{Set: true, Value: "<script>"}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	report, err := svc.ImportVoters(ctx, []map[string]any{
		{"voter_id": "V-2", "phone_number": "1", "secret_pin": "2", "voter_name": "${jndi:ldap://x}"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Errors[0].Reason, "name contains disallowed characters")

	assert.Empty(t, exec.inserted)
	assert.Empty(t, exec.updates)
}

func TestCreateElectionDefaultsToDraft(t *testing.T) {
	ctx := context.Background()
	svc, exec, _ := newAdminService(t, false)

	row, err := svc.CreateElection(ctx, &ElectionInput{
		Name:      models.Some("General 2026"),
		StartTime: models.Some("2026-05-01"),
		Metadata:  models.Some(json.RawMessage(`{"phase":1}`)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["id"])
	assert.Equal(t, models.ElectionDraft, row["status"])

	require.Len(t, exec.inserted, 1)
	stored := exec.inserted[0]
	assert.Equal(t, "General 2026", stored["election_name"])
	assert.Equal(t, "General 2026", stored["title"])
	assert.Equal(t, `{"phase":1}`, stored["metadata"])
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), stored["start_time"])
	assert.NotContains(t, stored, "description")

	_, err = svc.CreateElection(ctx, &ElectionInput{Name: models.Some("X"), Metadata: models.Some(json.RawMessage(`{bad`))})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.CreateElection(ctx, &ElectionInput{Name: models.Some("X"), StartTime: models.Some("next week")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateElectionTouchesOnlySuppliedFields(t *testing.T) {
	svc, exec, _ := newAdminService(t, false)

	_, err := svc.UpdateElection(context.Background(), "5", &ElectionInput{
		Description: models.Optional[string]{Set: true},
		Status:      models.Some("closed"),
	})
	require.NoError(t, err)

	require.Len(t, exec.updates, 1)
	assert.Equal(t, `UPDATE "elections" SET "description" = $1, "status" = $2 WHERE "id" = $3 RETURNING *`, exec.updates[0])
	assert.Equal(t, []any{nil, "closed", int64(5)}, exec.updateArgs[0])
}

func TestGetElectionNotFound(t *testing.T) {
	svc, _, _ := newAdminService(t, false)

	_, err := svc.GetElection(context.Background(), "9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "election not found")
}

func TestCreateConstituency(t *testing.T) {
	ctx := context.Background()
	svc, exec, _ := newAdminService(t, false)

	_, err := svc.CreateConstituency(ctx, &ConstituencyInput{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	row, err := svc.CreateConstituency(ctx, &ConstituencyInput{Name: "North", State: "Kerala"})
	require.NoError(t, err)
	assert.Equal(t, "North", row["name"])
	assert.Equal(t, true, row["is_active"])

	exec.insertErr = &schema.ConstraintError{Kind: schema.ConstraintDuplicate, Table: "constituencies"}
	_, err = svc.CreateConstituency(ctx, &ConstituencyInput{Name: "North", State: "Kerala"})
	assert.ErrorIs(t, err, schema.ErrDuplicate)
	assert.EqualError(t, err, "constituency already exists")
}

func TestCreateCandidateCreatesConstituency(t *testing.T) {
	ctx := context.Background()
	svc, exec, _ := newAdminService(t, false)

	in := &CandidateInput{
		Name:             models.Some("Asha"),
		Party:            models.Some("Green"),
		ElectionID:       models.Some[any]("3"),
		ConstituencyName: "North",
	}
	_, err := svc.CreateCandidate(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, exec.inserted)

	in.ConstituencyState = "Kerala"
	row, err := svc.CreateCandidate(ctx, in)
	require.NoError(t, err)

	require.Len(t, exec.inserted, 2)
	assert.Equal(t, "North", exec.inserted[0]["name"])
	assert.Equal(t, "Kerala", exec.inserted[0]["state"])

	assert.Equal(t, "Asha", row["name"])
	assert.Equal(t, "Green", row["party"])
	assert.Equal(t, int64(3), row["election_id"])
	assert.Equal(t, int64(1), row["constituency_id"])
	assert.Equal(t, true, row["is_active"])
}

func TestCreateCandidateValidation(t *testing.T) {
	ctx := context.Background()
	svc, exec, _ := newAdminService(t, false)

	_, err := svc.CreateCandidate(ctx, &CandidateInput{Name: models.Some("A"), ElectionID: models.Some[any]("3")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateCandidate(ctx, &CandidateInput{ElectionID: models.Some[any]("three"), ConstituencyID: models.Some[any](2)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	exec.insertErr = &schema.ConstraintError{Kind: schema.ConstraintForeignKey, Table: "candidates"}
	_, err = svc.CreateCandidate(ctx, &CandidateInput{Name: models.Some("A"), ElectionID: models.Some[any](float64(3)), ConstituencyID: models.Some[any](float64(2))})
	assert.ErrorIs(t, err, schema.ErrForeignKey)
	assert.Contains(t, err.Error(), "invalid election or constituency")
}
