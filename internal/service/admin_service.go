package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"civic-shield/internal/models"
	"civic-shield/internal/schema"
	"civic-shield/internal/util"
)

const (
	voterListLimit     = 200
	candidateListLimit = 500
)

// ElectionInput carries election fields. Absent fields are left untouched on
// patch; present but empty ones are cleared.
type ElectionInput struct {
	Name        models.Optional[string]          `json:"name"`
	Title       models.Optional[string]          `json:"title"`
	Type        models.Optional[string]          `json:"type"`
	Description models.Optional[string]          `json:"description"`
	StartTime   models.Optional[string]          `json:"start_time"`
	EndTime     models.Optional[string]          `json:"end_time"`
	Status      models.Optional[string]          `json:"status"`
	Metadata    models.Optional[json.RawMessage] `json:"metadata"`
}

type ConstituencyInput struct {
	Name     string                `json:"name"`
	State    string                `json:"state"`
	IsActive models.Optional[bool] `json:"is_active"`
}

// CandidateInput identifies the constituency either by id or by name and
// state; an unknown name is created on the fly.
type CandidateInput struct {
	Name              models.Optional[string] `json:"candidate_name"`
	Party             models.Optional[string] `json:"party_name"`
	PartyLogo         models.Optional[string] `json:"party_logo_url"`
	ElectionID        models.Optional[any]    `json:"election_id"`
	ConstituencyID    models.Optional[any]    `json:"constituency_id"`
	ConstituencyName  string                  `json:"constituency_name"`
	ConstituencyState string                  `json:"constituency_state"`
	IsActive          models.Optional[bool]   `json:"is_active"`
}

type VoterInput struct {
	VoterUID       string                `json:"voter_id"`
	Name           string                `json:"voter_name"`
	FullName       string                `json:"full_name"`
	Phone          string                `json:"phone_number"`
	PIN            string                `json:"secret_pin"`
	Email          string                `json:"email"`
	Gender         string                `json:"gender"`
	Address        string                `json:"address"`
	ConstituencyID any                   `json:"constituency_id"`
	IsActive       models.Optional[bool] `json:"is_active"`
	AccountStatus  string                `json:"account_status"`
}

// VoterPatch is the admin-writable subset of a voter. has_voted is owned by
// the vote path and cannot be changed here.
type VoterPatch struct {
	IsActive      models.Optional[bool]   `json:"is_active"`
	AccountStatus models.Optional[string] `json:"account_status"`
	Phone         models.Optional[string] `json:"phone_number"`
	Name          models.Optional[string] `json:"voter_name"`
}

// AdminService manages master data over whatever tables the database has.
type AdminService struct {
	resolver        *schema.Resolver
	reader          *schema.Reader
	writer          *schema.Writer
	hasher          CredentialHasher
	hashCredentials bool
	casts           CastRegistry
	audit           AuditRecorder
	logger          *zap.Logger
	now             func() time.Time
}

func NewAdminService(
	resolver *schema.Resolver,
	reader *schema.Reader,
	writer *schema.Writer,
	hasher CredentialHasher,
	hashCredentials bool,
	casts CastRegistry,
	audit AuditRecorder,
	logger *zap.Logger,
) *AdminService {
	return &AdminService{
		resolver:        resolver,
		reader:          reader,
		writer:          writer,
		hasher:          hasher,
		hashCredentials: hashCredentials,
		casts:           casts,
		audit:           audit,
		logger:          logger,
		now:             time.Now,
	}
}

// parseID reads a numeric identifier. Blank input yields nil.
func parseID(label string, v any) (any, error) {
	s := util.SanitizeText(v)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, invalidInput("%s must be a number", label)
	}
	return n, nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(label, s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, invalidInput("%s is not a valid date", label)
}

func textOrNil(s string) any {
	if s = util.SanitizeText(s); s == "" {
		return nil
	}
	return s
}

func (s *AdminService) credential(secret string) (string, error) {
	if !s.hashCredentials || secret == "" {
		return secret, nil
	}
	return s.hasher.Hash(secret)
}

func notFound(err error, what string) error {
	if errors.Is(err, schema.ErrRowNotFound) {
		return withMessage(ErrNotFound, what+" not found")
	}
	return err
}

// Elections

func (s *AdminService) electionView(m *schema.Mapping, row schema.Row) schema.Row {
	out := m.Logical(row)
	if util.SanitizeText(out[string(schema.FieldStatus)]) == "" {
		out[string(schema.FieldStatus)] = models.DeriveElectionStatus(
			out.Time(string(schema.FieldStart)), out.Time(string(schema.FieldEnd)), s.now())
	}
	return out
}

func (s *AdminService) ListElections(ctx context.Context) ([]schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Elections)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.List(ctx, m, schema.ListOptions{Desc: true})
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		rows[i] = s.electionView(m, row)
	}
	return rows, nil
}

func (s *AdminService) GetElection(ctx context.Context, id string) (schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Elections)
	if err != nil {
		return nil, err
	}
	row, err := s.reader.Get(ctx, m, schema.NormalizeID(id))
	if err != nil {
		return nil, notFound(err, "election")
	}
	return s.electionView(m, row), nil
}

// electionRow maps the present fields of in. With patch set, present but
// empty fields become NULL; otherwise they are skipped.
func electionRow(m *schema.Mapping, in *ElectionInput, patch bool) (schema.Row, error) {
	row := schema.Row{}
	put := func(f schema.Field, v any) {
		if patch {
			m.SetNull(row, f, v)
		} else {
			m.Set(row, f, v)
		}
	}

	if in.Name.Set || in.Title.Set {
		name := util.SanitizeText(in.Name.Value)
		title := util.SanitizeText(in.Title.Value)
		put(schema.FieldName, textOrNil(firstNonEmpty(name, title)))
		put(schema.FieldTitle, textOrNil(firstNonEmpty(title, name)))
	}
	if in.Type.Set {
		put(schema.FieldType, textOrNil(in.Type.Value))
	}
	if in.Description.Set {
		put(schema.FieldDescription, textOrNil(in.Description.Value))
	}
	if in.StartTime.Set {
		t, err := parseTime("start time", in.StartTime.Value)
		if err != nil {
			return nil, err
		}
		put(schema.FieldStart, t)
	}
	if in.EndTime.Set {
		t, err := parseTime("end time", in.EndTime.Value)
		if err != nil {
			return nil, err
		}
		put(schema.FieldEnd, t)
	}
	if in.Status.Set {
		put(schema.FieldStatus, textOrNil(in.Status.Value))
	}
	if in.Metadata.Set {
		var meta any
		if !in.Metadata.Null && len(in.Metadata.Value) > 0 {
			if !json.Valid(in.Metadata.Value) {
				return nil, invalidInput("metadata must be valid JSON")
			}
			meta = string(in.Metadata.Value)
		}
		put(schema.FieldMetadata, meta)
	}
	return row, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *AdminService) CreateElection(ctx context.Context, in *ElectionInput) (schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Elections)
	if err != nil {
		return nil, err
	}
	row, err := electionRow(m, in, false)
	if err != nil {
		return nil, err
	}
	if !in.Status.Set || util.SanitizeText(in.Status.Value) == "" {
		m.Set(row, schema.FieldStatus, models.ElectionDraft)
	}

	created, err := s.writer.Insert(ctx, m, row)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Election created", zap.Any("id", created[m.Column(schema.FieldID)]))
	return s.electionView(m, created), nil
}

func (s *AdminService) UpdateElection(ctx context.Context, id string, in *ElectionInput) (schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Elections)
	if err != nil {
		return nil, err
	}
	row, err := electionRow(m, in, true)
	if err != nil {
		return nil, err
	}
	updated, err := s.writer.Update(ctx, m, schema.NormalizeID(id), row)
	if err != nil {
		return nil, notFound(err, "election")
	}
	return s.electionView(m, updated), nil
}

func (s *AdminService) DeleteElection(ctx context.Context, id string) error {
	m, err := s.resolver.Resolve(ctx, schema.Elections)
	if err != nil {
		return err
	}
	if err := s.writer.Delete(ctx, m, schema.NormalizeID(id)); err != nil {
		return notFound(err, "election")
	}
	return nil
}

// Constituencies

func (s *AdminService) ListConstituencies(ctx context.Context) ([]schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Constituencies)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.List(ctx, m, schema.ListOptions{})
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		rows[i] = m.Logical(row)
	}
	return rows, nil
}

func (s *AdminService) CreateConstituency(ctx context.Context, in *ConstituencyInput) (schema.Row, error) {
	name := util.SanitizeText(in.Name)
	if name == "" {
		return nil, invalidInput("constituency name is required")
	}
	m, err := s.resolver.Resolve(ctx, schema.Constituencies)
	if err != nil {
		return nil, err
	}

	active := true
	if in.IsActive.Set && !in.IsActive.Null {
		active = in.IsActive.Value
	}
	row := schema.Row{}
	m.Set(row, schema.FieldName, name)
	m.Set(row, schema.FieldState, textOrNil(in.State))
	m.Set(row, schema.FieldIsActive, active)

	created, err := s.writer.Insert(ctx, m, row)
	if err != nil {
		if errors.Is(err, schema.ErrDuplicate) {
			return nil, withMessage(err, "constituency already exists")
		}
		return nil, err
	}
	return m.Logical(created), nil
}

// findOrCreateConstituency matches name and state case-insensitively and
// inserts a new active constituency when nothing matches.
func (s *AdminService) findOrCreateConstituency(ctx context.Context, name, state string) (any, error) {
	m, err := s.resolver.Resolve(ctx, schema.Constituencies)
	if err != nil {
		return nil, err
	}
	if m.Has(schema.FieldState) && state == "" {
		return nil, invalidInput("state is required for new constituency")
	}

	fold := map[schema.Field]string{schema.FieldName: name}
	if m.Has(schema.FieldState) {
		fold[schema.FieldState] = state
	}
	existing, err := s.reader.FindOne(ctx, m, schema.ListOptions{
		Fields:     []schema.Field{schema.FieldID},
		FoldEquals: fold,
	})
	switch {
	case err == nil:
		return schema.NormalizeID(existing[string(schema.FieldID)]), nil
	case !errors.Is(err, schema.ErrRowNotFound):
		return nil, err
	}

	row := schema.Row{}
	m.Set(row, schema.FieldName, name)
	m.Set(row, schema.FieldState, textOrNil(state))
	m.Set(row, schema.FieldIsActive, true)
	created, err := s.writer.Insert(ctx, m, row)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Constituency created for candidate", zap.String("name", name), zap.String("state", state))
	return schema.NormalizeID(created[m.Column(schema.FieldID)]), nil
}

// Candidates

func (s *AdminService) ListCandidates(ctx context.Context, electionID string) ([]schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Candidates)
	if err != nil {
		return nil, err
	}
	opts := schema.ListOptions{Desc: true, Limit: candidateListLimit}
	if id, err := parseID("election id", electionID); err != nil {
		return nil, err
	} else if id != nil {
		opts.Filters = map[schema.Field]any{schema.FieldElectionID: id}
	}
	rows, err := s.reader.List(ctx, m, opts)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		rows[i] = m.Logical(row)
	}
	return rows, nil
}

func candidateFK(err error) error {
	if errors.Is(err, schema.ErrForeignKey) {
		return withMessage(err, "invalid election or constituency, select values that exist in master tables")
	}
	return err
}

func (s *AdminService) CreateCandidate(ctx context.Context, in *CandidateInput) (schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Candidates)
	if err != nil {
		return nil, err
	}

	row := schema.Row{}
	m.Set(row, schema.FieldName, textOrNil(in.Name.Value))
	m.Set(row, schema.FieldParty, textOrNil(in.Party.Value))
	m.Set(row, schema.FieldPartyLogo, textOrNil(in.PartyLogo.Value))

	electionID, err := parseID("election id", in.ElectionID.Value)
	if err != nil {
		return nil, err
	}
	m.Set(row, schema.FieldElectionID, electionID)

	if m.Has(schema.FieldConstituencyID) {
		constituencyID, err := parseID("constituency id", in.ConstituencyID.Value)
		if err != nil {
			return nil, err
		}
		if constituencyID == nil {
			if name := util.SanitizeText(in.ConstituencyName); name != "" {
				constituencyID, err = s.findOrCreateConstituency(ctx, name, util.SanitizeText(in.ConstituencyState))
				if err != nil {
					return nil, err
				}
			}
		}
		if constituencyID == nil {
			return nil, invalidInput("constituency is required, select an existing constituency or provide valid new constituency details")
		}
		m.Set(row, schema.FieldConstituencyID, constituencyID)
	}

	active := true
	if in.IsActive.Set && !in.IsActive.Null {
		active = in.IsActive.Value
	}
	m.Set(row, schema.FieldIsActive, active)

	created, err := s.writer.Insert(ctx, m, row)
	if err != nil {
		return nil, candidateFK(err)
	}
	return m.Logical(created), nil
}

func (s *AdminService) UpdateCandidate(ctx context.Context, id string, in *CandidateInput) (schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Candidates)
	if err != nil {
		return nil, err
	}

	row := schema.Row{}
	if in.Name.Set {
		m.SetNull(row, schema.FieldName, textOrNil(in.Name.Value))
	}
	if in.Party.Set {
		m.SetNull(row, schema.FieldParty, textOrNil(in.Party.Value))
	}
	if in.PartyLogo.Set {
		m.SetNull(row, schema.FieldPartyLogo, textOrNil(in.PartyLogo.Value))
	}
	if in.ElectionID.Set {
		v, err := parseID("election id", in.ElectionID.Value)
		if err != nil {
			return nil, err
		}
		m.SetNull(row, schema.FieldElectionID, v)
	}
	if in.ConstituencyID.Set {
		v, err := parseID("constituency id", in.ConstituencyID.Value)
		if err != nil {
			return nil, err
		}
		m.SetNull(row, schema.FieldConstituencyID, v)
	}
	if in.IsActive.Set {
		var v any
		if !in.IsActive.Null {
			v = in.IsActive.Value
		}
		m.SetNull(row, schema.FieldIsActive, v)
	}

	updated, err := s.writer.Update(ctx, m, schema.NormalizeID(id), row)
	if err != nil {
		return nil, candidateFK(notFound(err, "candidate"))
	}
	return m.Logical(updated), nil
}

func (s *AdminService) DeleteCandidate(ctx context.Context, id string) error {
	m, err := s.resolver.Resolve(ctx, schema.Candidates)
	if err != nil {
		return err
	}
	if err := s.writer.Delete(ctx, m, schema.NormalizeID(id)); err != nil {
		return notFound(err, "candidate")
	}
	return nil
}

// Voters

func voterView(m *schema.Mapping, row schema.Row) schema.Row {
	return m.Logical(row, schema.FieldPIN)
}

func (s *AdminService) ListVoters(ctx context.Context, search string) ([]schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Voters)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.List(ctx, m, schema.ListOptions{
		Search:       search,
		SearchFields: []schema.Field{schema.FieldVoterUID, schema.FieldPhone},
		Desc:         true,
		Limit:        voterListLimit,
	})
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		rows[i] = voterView(m, row)
	}
	return rows, nil
}

func (s *AdminService) CreateVoter(ctx context.Context, in *VoterInput) (schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Voters)
	if err != nil {
		return nil, err
	}
	if err := markupFree(map[schema.Field]any{
		schema.FieldVoterUID: in.VoterUID,
		schema.FieldName:     in.Name,
		schema.FieldFullName: in.FullName,
		schema.FieldPhone:    in.Phone,
		schema.FieldEmail:    in.Email,
		schema.FieldGender:   in.Gender,
		schema.FieldAddress:  in.Address,
	}); err != nil {
		return nil, err
	}

	pin, err := s.credential(util.SanitizeText(in.PIN))
	if err != nil {
		return nil, err
	}
	constituencyID, err := parseID("constituency id", in.ConstituencyID)
	if err != nil {
		return nil, err
	}
	active := true
	if in.IsActive.Set && !in.IsActive.Null {
		active = in.IsActive.Value
	}
	status := util.SanitizeText(in.AccountStatus)
	if status == "" {
		status = models.AccountActive
	}
	fullName := util.SanitizeText(in.FullName)

	row := schema.Row{}
	m.Set(row, schema.FieldVoterUID, textOrNil(in.VoterUID))
	m.Set(row, schema.FieldName, textOrNil(firstNonEmpty(util.SanitizeText(in.Name), fullName)))
	m.Set(row, schema.FieldFullName, textOrNil(fullName))
	m.Set(row, schema.FieldPhone, textOrNil(in.Phone))
	m.Set(row, schema.FieldPIN, textOrNil(pin))
	m.Set(row, schema.FieldEmail, textOrNil(in.Email))
	m.Set(row, schema.FieldGender, textOrNil(in.Gender))
	m.Set(row, schema.FieldAddress, textOrNil(in.Address))
	m.Set(row, schema.FieldConstituencyID, constituencyID)
	m.Set(row, schema.FieldIsActive, active)
	m.Set(row, schema.FieldHasVoted, false)
	m.Set(row, schema.FieldPINAttempts, 0)
	m.Set(row, schema.FieldAccountStatus, status)

	created, err := s.writer.Insert(ctx, m, row)
	if err != nil {
		if errors.Is(err, schema.ErrDuplicate) {
			return nil, withMessage(err, "voter already exists")
		}
		return nil, err
	}
	return voterView(m, created), nil
}

func (s *AdminService) UpdateVoter(ctx context.Context, id string, in *VoterPatch) (schema.Row, error) {
	m, err := s.resolver.Resolve(ctx, schema.Voters)
	if err != nil {
		return nil, err
	}

	if err := markupFree(map[schema.Field]any{
		schema.FieldPhone: in.Phone.Value,
		schema.FieldName:  in.Name.Value,
	}); err != nil {
		return nil, err
	}

	row := schema.Row{}
	if in.IsActive.Set && !in.IsActive.Null {
		m.Set(row, schema.FieldIsActive, in.IsActive.Value)
	}
	if in.Phone.Set {
		m.Set(row, schema.FieldPhone, textOrNil(in.Phone.Value))
	}
	if in.Name.Set {
		name := textOrNil(in.Name.Value)
		m.Set(row, schema.FieldName, name)
		m.Set(row, schema.FieldFullName, name)
	}
	unlocking := false
	if in.AccountStatus.Set {
		switch status := util.SanitizeText(in.AccountStatus.Value); status {
		case "":
		case models.AccountActive:
			m.Set(row, schema.FieldAccountStatus, status)
			m.Set(row, schema.FieldPINAttempts, 0)
			m.SetNull(row, schema.FieldLockTime, nil)
			unlocking = true
		case models.AccountLocked:
			m.Set(row, schema.FieldAccountStatus, status)
			m.Set(row, schema.FieldLockTime, s.now().UTC())
		default:
			return nil, invalidInput("account status must be %q or %q", models.AccountActive, models.AccountLocked)
		}
	}

	updated, err := s.writer.Update(ctx, m, schema.NormalizeID(id), row)
	if err != nil {
		return nil, notFound(err, "voter")
	}
	if unlocking {
		uid := updated.String(m.Column(schema.FieldVoterUID))
		s.audit.Record(ctx, models.SecurityEvent{EventType: models.EventPINUnlocked, SubjectID: uid, Details: "admin"})
	}
	return voterView(m, updated), nil
}

// resolveOptional resolves e, returning nil when the database lacks it.
func (s *AdminService) resolveOptional(ctx context.Context, e schema.Entity) (*schema.Mapping, error) {
	m, err := s.resolver.Resolve(ctx, e)
	if err != nil {
		if errors.Is(err, schema.ErrSchema) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// DeleteVoter removes a voter along with the outbox rows and cast marker it
// left behind.
func (s *AdminService) DeleteVoter(ctx context.Context, id string) error {
	m, err := s.resolver.Resolve(ctx, schema.Voters)
	if err != nil {
		return err
	}
	outbox, err := s.resolveOptional(ctx, schema.Outbox)
	if err != nil {
		return err
	}

	voterID := schema.NormalizeID(id)
	err = s.writer.InTx(ctx, func(w *schema.Writer) error {
		if outbox != nil {
			if _, err := w.DeleteWhere(ctx, outbox, schema.FieldVoterID, voterID); err != nil {
				return err
			}
		}
		return w.Delete(ctx, m, voterID)
	})
	if err != nil {
		if errors.Is(err, schema.ErrForeignKey) {
			return withMessage(err, "voter has a recorded vote and cannot be deleted individually")
		}
		return notFound(err, "voter")
	}

	if n, ok := voterID.(int64); ok && s.casts != nil {
		if err := s.casts.Clear(ctx, n); err != nil {
			s.logger.Warn("Failed to clear cast marker", zap.Int64("voter_row_id", n), zap.Error(err))
		}
	}
	return nil
}

// DeleteAllVoters removes every vote row, outbox row and voter in one
// transaction. Cast markers are keyed by row id, which is never reused, so a
// purged voter's marker cannot block a voter created later.
func (s *AdminService) DeleteAllVoters(ctx context.Context, confirm bool, actor string) (int64, error) {
	if !confirm {
		return 0, ErrConfirmNeeded
	}
	voters, err := s.resolver.Resolve(ctx, schema.Voters)
	if err != nil {
		return 0, err
	}

	var dependents []*schema.Mapping
	for _, e := range []schema.Entity{schema.Votes, schema.Outbox} {
		m, err := s.resolveOptional(ctx, e)
		if err != nil {
			return 0, err
		}
		if m != nil {
			dependents = append(dependents, m)
		}
	}

	n, err := s.writer.DeleteAll(ctx, voters, dependents...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete voters: %w", err)
	}
	s.logger.Warn("All voters deleted", zap.String("admin", actor), zap.Int64("deleted", n))
	s.audit.Record(ctx, models.SecurityEvent{
		EventType: models.EventVotersPurged,
		SubjectID: actor,
		Details:   auditDetails("deleted=%d", n),
	})
	return n, nil
}
