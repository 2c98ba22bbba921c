package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"civic-shield/internal/models"
	"civic-shield/internal/schema"
	"civic-shield/internal/util"
)

const maxReportedImportErrors = 10

// importHeaders maps normalized spreadsheet headers onto voter fields.
// has_voted is absent on purpose: imported voters always start unvoted.
var importHeaders = map[string]schema.Field{
	"voterid":        schema.FieldVoterUID,
	"voteruid":       schema.FieldVoterUID,
	"votersuid":      schema.FieldVoterUID,
	"voteruidnumber": schema.FieldVoterUID,
	"votername":      schema.FieldName,
	"phonenumber":    schema.FieldPhone,
	"phone":          schema.FieldPhone,
	"mobilenumber":   schema.FieldPhone,
	"secretpin":      schema.FieldPIN,
	"pin":            schema.FieldPIN,
	"constituencyid": schema.FieldConstituencyID,
	"constituency":   schema.FieldConstituencyID,
	"isactive":       schema.FieldIsActive,
	"active":         schema.FieldIsActive,
	"accountstatus":  schema.FieldAccountStatus,
	"locktime":       schema.FieldLockTime,
	"fullname":       schema.FieldFullName,
	"name":           schema.FieldFullName,
	"email":          schema.FieldEmail,
	"gender":         schema.FieldGender,
	"address":        schema.FieldAddress,
}

// ImportOutcome is the result for one input record. Row counts the header
// line, so the first record is row 2.
type ImportOutcome struct {
	Row      int    `json:"row"`
	Inserted bool   `json:"inserted"`
	Reason   string `json:"reason,omitempty"`
}

type ImportReport struct {
	Inserted int             `json:"inserted"`
	Failed   int             `json:"failed"`
	Errors   []ImportOutcome `json:"errors"`
	Outcomes []ImportOutcome `json:"-"`
}

// ParseVoterCSV reads a header line followed by one voter per line.
func ParseVoterCSV(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalidInput("file is empty")
		}
		return nil, invalidInput("unreadable CSV: %v", err)
	}

	var records []map[string]any
	for {
		line, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalidInput("unreadable CSV: %v", err)
		}
		rec := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(line) {
				rec[h] = line[i]
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// normalizeRecord turns one raw record into logical voter fields, applying
// the defaults a new voter gets.
func normalizeRecord(raw map[string]any) (map[schema.Field]any, error) {
	fields := make(map[schema.Field]any)
	normalized := make(map[string]string, len(raw))

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		h := util.NormalizeHeader(k)
		v := util.SanitizeText(raw[k])
		normalized[h] = v
		if f, ok := importHeaders[h]; ok && v != "" {
			if _, seen := fields[f]; !seen {
				fields[f] = v
			}
		}
	}

	if fields[schema.FieldVoterUID] == nil {
		headers := make([]string, 0, len(normalized))
		for h := range normalized {
			headers = append(headers, h)
		}
		sort.Strings(headers)
		for _, h := range headers {
			if v := normalized[h]; v != "" && strings.Contains(h, "voter") &&
				(strings.Contains(h, "uid") || strings.HasSuffix(h, "id")) {
				fields[schema.FieldVoterUID] = v
				break
			}
		}
	}

	if err := markupFree(fields); err != nil {
		return nil, err
	}

	if fields[schema.FieldName] == nil && fields[schema.FieldFullName] != nil {
		fields[schema.FieldName] = fields[schema.FieldFullName]
	}
	if fields[schema.FieldFullName] == nil && fields[schema.FieldName] != nil {
		fields[schema.FieldFullName] = fields[schema.FieldName]
	}

	if v, ok := fields[schema.FieldConstituencyID]; ok {
		if id, err := parseID("constituency id", v); err == nil && id != nil {
			fields[schema.FieldConstituencyID] = id
		} else {
			delete(fields, schema.FieldConstituencyID)
		}
	}

	active, ok := util.ParseBool(fields[schema.FieldIsActive])
	if !ok {
		active = true
	}
	fields[schema.FieldIsActive] = active
	fields[schema.FieldHasVoted] = false
	fields[schema.FieldPINAttempts] = 0

	if fields[schema.FieldAccountStatus] == nil {
		fields[schema.FieldAccountStatus] = models.AccountActive
	}
	if v, ok := fields[schema.FieldLockTime]; ok {
		t, err := parseTime("lock time", util.SanitizeText(v))
		if err != nil {
			return nil, err
		}
		fields[schema.FieldLockTime] = t
	}
	return fields, nil
}

// markupFree fails on the first text field carrying markup or template
// fragments. PINs are hashed, never displayed, and may hold any character.
func markupFree(fields map[schema.Field]any) error {
	keys := make([]string, 0, len(fields))
	for f := range fields {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)
	for _, k := range keys {
		f := schema.Field(k)
		if f == schema.FieldPIN {
			continue
		}
		if v, ok := fields[f].(string); ok && util.ContainsSuspicious(v) {
			return invalidInput("%s contains disallowed characters", strings.ReplaceAll(k, "_", " "))
		}
	}
	return nil
}

func importReason(err error, fields map[schema.Field]any) string {
	var missing *schema.MissingFieldsError
	switch {
	case errors.As(err, &missing):
		return "missing required columns: " + strings.Join(missing.Columns, ", ")
	case errors.Is(err, schema.ErrNoWritableFields):
		return "no valid columns"
	case errors.Is(err, schema.ErrForeignKey):
		return fmt.Sprintf("invalid constituency id %v, add it in constituencies table first", fields[schema.FieldConstituencyID])
	case errors.Is(err, schema.ErrDuplicate):
		return fmt.Sprintf("voter %v already exists", fields[schema.FieldVoterUID])
	}
	return err.Error()
}

// ImportVoters inserts each record independently and reports per-row
// outcomes. A failing row never stops the rest.
func (s *AdminService) ImportVoters(ctx context.Context, records []map[string]any) (*ImportReport, error) {
	if len(records) == 0 {
		return nil, invalidInput("no voter records supplied")
	}
	m, err := s.resolver.Resolve(ctx, schema.Voters)
	if err != nil {
		return nil, err
	}

	report := &ImportReport{Outcomes: make([]ImportOutcome, 0, len(records))}
	for i, raw := range records {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outcome := ImportOutcome{Row: i + 2}
		if err := s.importOne(ctx, m, raw); err != nil {
			outcome.Reason = err.Error()
			report.Failed++
			if len(report.Errors) < maxReportedImportErrors {
				report.Errors = append(report.Errors, outcome)
			}
		} else {
			outcome.Inserted = true
			report.Inserted++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	s.logger.Info("Voter import finished",
		zap.Int("records", len(records)),
		zap.Int("inserted", report.Inserted),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (s *AdminService) importOne(ctx context.Context, m *schema.Mapping, raw map[string]any) error {
	fields, err := normalizeRecord(raw)
	if err != nil {
		return err
	}
	if pin, ok := fields[schema.FieldPIN].(string); ok {
		hashed, err := s.credential(pin)
		if err != nil {
			return err
		}
		fields[schema.FieldPIN] = hashed
	}

	row := schema.Row{}
	for f, v := range fields {
		m.Set(row, f, v)
	}
	if _, err := s.writer.Insert(ctx, m, row); err != nil {
		return errors.New(importReason(err, fields))
	}
	return nil
}
