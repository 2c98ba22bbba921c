package models

import "time"

const (
	AccountActive = "active"
	AccountLocked = "locked"
)

// Voter is the guard-relevant projection of a voter row.
type Voter struct {
	ID             int64      `json:"id"`
	UID            string     `json:"voter_uid"`
	Name           string     `json:"name,omitempty"`
	Phone          string     `json:"-"`
	PIN            string     `json:"-"`
	HasVoted       bool       `json:"has_voted"`
	PINAttempts    int        `json:"pin_attempts"`
	AccountStatus  string     `json:"account_status"`
	LockTime       *time.Time `json:"lock_time,omitempty"`
	IsActive       bool       `json:"is_active"`
	ConstituencyID *int64     `json:"constituency_id,omitempty"`
}

func (v *Voter) Locked() bool {
	return v.AccountStatus == AccountLocked
}
