package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrVoterNotFound = errors.New("voter not found")
	ErrNotFound      = errors.New("not found")
	ErrInvalidLogin  = errors.New("invalid voter id or phone number")

	ErrOTPSessionExpired = errors.New("OTP session expired, please login again")
	ErrOTPExpired        = errors.New("OTP expired, please request a new OTP")
	ErrOTPLocked         = errors.New("too many wrong attempts, OTP locked")
	ErrOTPMismatch       = errors.New("invalid OTP")
	ErrOTPCooldown       = errors.New("please wait before resending OTP")
	ErrOTPLimitExceeded  = errors.New("OTP resend limit exceeded")

	ErrAccountLocked = errors.New("account locked, try again later")
	ErrInvalidPIN    = errors.New("invalid PIN")

	ErrAlreadyVoted      = errors.New("voter has already voted")
	ErrVoteInProgress    = errors.New("a vote for this voter is already being processed")
	ErrLedgerUnavailable = errors.New("ledger unavailable, please try again")
	ErrLedgerRejected    = errors.New("ledger rejected the vote")

	ErrUnauthorized  = errors.New("unauthorized")
	ErrAdminDisabled = errors.New("admin account disabled")
	ErrConfirmNeeded = errors.New("pass confirm=true to delete all voters")
)

// InvalidPINError reports a mismatch together with the attempts left before
// the account locks.
type InvalidPINError struct {
	Remaining int
}

func (e *InvalidPINError) Error() string {
	return fmt.Sprintf("invalid PIN, attempts left: %d", e.Remaining)
}

func (e *InvalidPINError) Is(target error) bool {
	return target == ErrInvalidPIN
}

// invalidInput wraps a field-level complaint as ErrInvalidInput.
func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// messageError gives err a caller-facing message while keeping it matchable.
type messageError struct {
	msg string
	err error
}

func (e *messageError) Error() string { return e.msg }
func (e *messageError) Unwrap() error { return e.err }

func withMessage(err error, msg string) error {
	return &messageError{msg: msg, err: err}
}
