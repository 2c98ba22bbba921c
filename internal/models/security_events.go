package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventOTPIssued       = "otp_issued"
	EventOTPVerified     = "otp_verified"
	EventOTPLocked       = "otp_locked"
	EventPINFailed       = "pin_failed"
	EventPINLocked       = "pin_locked"
	EventPINUnlocked     = "pin_unlocked"
	EventVoteConfirmed   = "vote_confirmed"
	EventVoteFailed      = "vote_failed"
	EventMirrorFailed    = "mirror_failed"
	EventMirrorRecovered = "mirror_recovered"
	EventAdminLogin      = "admin_login"
	EventAdminLoginFail  = "admin_login_failed"
	EventVotersPurged    = "voters_purged"
)

type SecurityEvent struct {
	ID        uuid.UUID `json:"id"`
	EventTime time.Time `json:"event_time"`
	EventType string    `json:"event_type"`
	SubjectID string    `json:"subject_id"`
	Bucket    int       `json:"bucket"`
	Details   string    `json:"details,omitempty"`
}
