package models

import "time"

// OTPRecord is the transient one-time-code state for a voter.
type OTPRecord struct {
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	ResendCount int       `json:"resend_count"`
	LastSentAt  time.Time `json:"last_sent_at"`
}

// OTPIssue is returned by issue and resend. Code is empty unless
// demonstration exposure is enabled.
type OTPIssue struct {
	VoterUID  string    `json:"voter_id"`
	Code      string    `json:"otp,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}
