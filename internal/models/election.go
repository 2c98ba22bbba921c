package models

import "time"

const (
	ElectionActive    = "active"
	ElectionScheduled = "scheduled"
	ElectionClosed    = "closed"
	ElectionDraft     = "draft"
)

// DeriveElectionStatus maps a start/end window onto a status.
// Missing bounds are treated as open.
func DeriveElectionStatus(start, end *time.Time, now time.Time) string {
	switch {
	case start != nil && now.Before(*start):
		return ElectionScheduled
	case end != nil && now.After(*end):
		return ElectionClosed
	default:
		return ElectionActive
	}
}

type CandidateResult struct {
	CandidateID interface{} `json:"candidate_id"`
	Name        string      `json:"candidate_name"`
	Party       string      `json:"party_name"`
	TotalVotes  int64       `json:"total_votes"`
}
