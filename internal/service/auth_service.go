package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"go.uber.org/zap"

	"civic-shield/internal/models"
	"civic-shield/internal/schema"
)

// AuthService is the voter entry point: identity check, then OTP.
type AuthService struct {
	voters VoterStore
	otp    *OTPGuard
	logger *zap.Logger
}

func NewAuthService(voters VoterStore, otp *OTPGuard, logger *zap.Logger) *AuthService {
	return &AuthService{voters: voters, otp: otp, logger: logger}
}

// Login issues an OTP when the voter exists, is active and the phone matches.
// Every identity failure yields the same error.
func (s *AuthService) Login(ctx context.Context, voterUID, phone string) (*models.OTPIssue, error) {
	voterUID, phone = strings.TrimSpace(voterUID), strings.TrimSpace(phone)
	if voterUID == "" || phone == "" {
		return nil, invalidInput("voter id and phone number are required")
	}

	v, err := s.voters.FindByUID(ctx, voterUID)
	if err != nil {
		if errors.Is(err, schema.ErrRowNotFound) {
			return nil, ErrInvalidLogin
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(v.Phone)), []byte(phone)) != 1 || !v.IsActive {
		s.logger.Info("Voter login rejected", zap.String("voter_id", voterUID))
		return nil, ErrInvalidLogin
	}

	return s.otp.Issue(ctx, voterUID)
}

func (s *AuthService) VerifyOTP(ctx context.Context, voterUID, code string) error {
	return s.otp.Verify(ctx, voterUID, code)
}

func (s *AuthService) ResendOTP(ctx context.Context, voterUID string) (*models.OTPIssue, error) {
	return s.otp.Resend(ctx, voterUID)
}
