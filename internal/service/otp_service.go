package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"civic-shield/internal/config"
	"civic-shield/internal/models"
	"civic-shield/internal/repository/cache"
)

// OTPRecords persists one OTP record per voter.
type OTPRecords interface {
	Get(ctx context.Context, voterUID string) (*models.OTPRecord, error)
	Save(ctx context.Context, voterUID string, rec *models.OTPRecord, retention time.Duration) error
	Delete(ctx context.Context, voterUID string) error
}

// OTPGuard issues, verifies and resends one-time codes. Transitions for one
// voter are serialized.
type OTPGuard struct {
	records OTPRecords
	sender  OTPSender
	locks   Locker
	audit   AuditRecorder
	cfg     config.GuardConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewOTPGuard(records OTPRecords, sender OTPSender, locks Locker, audit AuditRecorder, cfg config.GuardConfig, logger *zap.Logger) *OTPGuard {
	return &OTPGuard{
		records: records,
		sender:  sender,
		locks:   locks,
		audit:   audit,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

var otpSpan = big.NewInt(900000)

// generateCode returns a uniformly random code in 100000..999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpan)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func (g *OTPGuard) lock(voterUID string) func() {
	return g.locks.Lock("otp:" + voterUID)
}

func (g *OTPGuard) load(ctx context.Context, voterUID string) (*models.OTPRecord, error) {
	rec, err := g.records.Get(ctx, voterUID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrOTPSessionExpired
		}
		return nil, err
	}
	return rec, nil
}

func (g *OTPGuard) event(ctx context.Context, eventType, voterUID, details string) {
	g.audit.Record(ctx, models.SecurityEvent{
		EventType: eventType,
		SubjectID: voterUID,
		Bucket:    g.locks.Bucket(voterUID),
		Details:   details,
	})
}

func (g *OTPGuard) deliver(ctx context.Context, voterUID string, rec *models.OTPRecord) (*models.OTPIssue, error) {
	if err := g.sender.Send(ctx, voterUID, rec.Code); err != nil {
		return nil, fmt.Errorf("failed to deliver OTP: %w", err)
	}
	issue := &models.OTPIssue{VoterUID: voterUID, ExpiresAt: rec.ExpiresAt}
	if g.cfg.OTPExposeCode {
		issue.Code = rec.Code
	}
	return issue, nil
}

// Issue starts a fresh OTP session, replacing any previous one.
func (g *OTPGuard) Issue(ctx context.Context, voterUID string) (*models.OTPIssue, error) {
	voterUID = strings.TrimSpace(voterUID)
	if voterUID == "" {
		return nil, invalidInput("voter id is required")
	}

	unlock := g.lock(voterUID)
	defer unlock()

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()
	rec := &models.OTPRecord{
		Code:       code,
		ExpiresAt:  now.Add(g.cfg.OTPTTL),
		LastSentAt: now,
	}
	if err := g.records.Save(ctx, voterUID, rec, g.cfg.OTPRetention); err != nil {
		return nil, err
	}

	g.event(ctx, models.EventOTPIssued, voterUID, "")
	return g.deliver(ctx, voterUID, rec)
}

// Verify consumes the session on success. The mismatch that exhausts the
// attempt limit deletes the session and reports ErrOTPLocked.
func (g *OTPGuard) Verify(ctx context.Context, voterUID, code string) error {
	voterUID, code = strings.TrimSpace(voterUID), strings.TrimSpace(code)
	if voterUID == "" || code == "" {
		return invalidInput("voter id and OTP are required")
	}

	unlock := g.lock(voterUID)
	defer unlock()

	rec, err := g.load(ctx, voterUID)
	if err != nil {
		return err
	}

	now := g.now().UTC()
	if now.After(rec.ExpiresAt) {
		g.discard(ctx, voterUID)
		return ErrOTPExpired
	}
	if rec.Attempts >= g.cfg.OTPMaxAttempts {
		g.discard(ctx, voterUID)
		return ErrOTPLocked
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		rec.Attempts++
		if rec.Attempts >= g.cfg.OTPMaxAttempts {
			if err := g.records.Delete(ctx, voterUID); err != nil {
				return err
			}
			g.logger.Warn("OTP locked after repeated mismatches", zap.String("voter_id", voterUID))
			g.event(ctx, models.EventOTPLocked, voterUID, "")
			return ErrOTPLocked
		}
		if err := g.records.Save(ctx, voterUID, rec, g.cfg.OTPRetention); err != nil {
			return err
		}
		return ErrOTPMismatch
	}

	if err := g.records.Delete(ctx, voterUID); err != nil {
		return err
	}
	g.event(ctx, models.EventOTPVerified, voterUID, "")
	return nil
}

// discard drops a session that is already being refused. A failed delete only
// leaves a record that will be refused again.
func (g *OTPGuard) discard(ctx context.Context, voterUID string) {
	if err := g.records.Delete(ctx, voterUID); err != nil {
		g.logger.Warn("Failed to delete OTP session", zap.String("voter_id", voterUID), zap.Error(err))
	}
}

// Resend replaces the code of an existing session, subject to the cooldown
// and the resend cap.
func (g *OTPGuard) Resend(ctx context.Context, voterUID string) (*models.OTPIssue, error) {
	voterUID = strings.TrimSpace(voterUID)
	if voterUID == "" {
		return nil, invalidInput("voter id is required")
	}

	unlock := g.lock(voterUID)
	defer unlock()

	rec, err := g.load(ctx, voterUID)
	if err != nil {
		return nil, err
	}

	now := g.now().UTC()
	if now.Sub(rec.LastSentAt) < g.cfg.OTPResendCooldown {
		return nil, ErrOTPCooldown
	}
	if rec.ResendCount >= g.cfg.OTPMaxResends {
		g.discard(ctx, voterUID)
		return nil, ErrOTPLimitExceeded
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	rec.Code = code
	rec.ExpiresAt = now.Add(g.cfg.OTPTTL)
	rec.ResendCount++
	rec.LastSentAt = now
	if err := g.records.Save(ctx, voterUID, rec, g.cfg.OTPRetention); err != nil {
		return nil, err
	}

	g.event(ctx, models.EventOTPIssued, voterUID, fmt.Sprintf("resend=%d", rec.ResendCount))
	return g.deliver(ctx, voterUID, rec)
}

// LogSender writes codes to the log instead of an SMS gateway.
type LogSender struct {
	logger *zap.Logger
	reveal bool
}

func NewLogSender(logger *zap.Logger, reveal bool) *LogSender {
	return &LogSender{logger: logger, reveal: reveal}
}

func (s *LogSender) Send(_ context.Context, voterUID, code string) error {
	fields := []zap.Field{zap.String("voter_id", voterUID)}
	if s.reveal {
		fields = append(fields, zap.String("otp", code))
	}
	s.logger.Info("OTP dispatched", fields...)
	return nil
}
