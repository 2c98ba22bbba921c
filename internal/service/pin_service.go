package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"civic-shield/internal/config"
	"civic-shield/internal/models"
	"civic-shield/internal/schema"
)

// PINGuard checks a voter's secret PIN with attempt counting and a
// time-boxed lockout that lifts itself.
type PINGuard struct {
	voters VoterStore
	hasher CredentialHasher
	locks  Locker
	audit  AuditRecorder
	cfg    config.GuardConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewPINGuard(voters VoterStore, hasher CredentialHasher, locks Locker, audit AuditRecorder, cfg config.GuardConfig, logger *zap.Logger) *PINGuard {
	return &PINGuard{
		voters: voters,
		hasher: hasher,
		locks:  locks,
		audit:  audit,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (g *PINGuard) event(ctx context.Context, eventType string, v *models.Voter, details string) {
	g.audit.Record(ctx, models.SecurityEvent{
		EventType: eventType,
		SubjectID: v.UID,
		Bucket:    g.locks.Bucket(v.UID),
		Details:   details,
	})
}

// Verify returns the voter on success. Every state change is persisted
// before Verify returns.
func (g *PINGuard) Verify(ctx context.Context, voterUID, pin string) (*models.Voter, error) {
	voterUID = strings.TrimSpace(voterUID)
	if voterUID == "" || pin == "" {
		return nil, invalidInput("voter id and PIN are required")
	}

	unlock := g.locks.Lock("pin:" + voterUID)
	defer unlock()

	v, err := g.voters.FindByUID(ctx, voterUID)
	if err != nil {
		if errors.Is(err, schema.ErrRowNotFound) {
			return nil, ErrVoterNotFound
		}
		return nil, err
	}

	now := g.now().UTC()
	if v.Locked() {
		if v.LockTime != nil && now.Sub(*v.LockTime) < g.cfg.PINLockDuration {
			return nil, ErrAccountLocked
		}
		v.AccountStatus = models.AccountActive
		v.PINAttempts = 0
		v.LockTime = nil
		if err := g.voters.SavePINState(ctx, v); err != nil {
			return nil, err
		}
		g.logger.Info("PIN lock expired", zap.String("voter_id", v.UID))
		g.event(ctx, models.EventPINUnlocked, v, "")
	}

	ok, err := g.hasher.Verify(pin, v.PIN)
	if err != nil {
		return nil, fmt.Errorf("failed to verify PIN: %w", err)
	}

	if ok {
		if v.PINAttempts != 0 {
			v.PINAttempts = 0
			if err := g.voters.SavePINState(ctx, v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}

	v.PINAttempts++
	if v.PINAttempts >= g.cfg.PINMaxAttempts {
		v.AccountStatus = models.AccountLocked
		v.LockTime = &now
		if err := g.voters.SavePINState(ctx, v); err != nil {
			return nil, err
		}
		g.logger.Warn("Voter locked after failed PIN attempts",
			zap.String("voter_id", v.UID),
			zap.Int("attempts", v.PINAttempts))
		g.event(ctx, models.EventPINLocked, v, "")
		return nil, ErrAccountLocked
	}

	if err := g.voters.SavePINState(ctx, v); err != nil {
		return nil, err
	}
	g.event(ctx, models.EventPINFailed, v, fmt.Sprintf("attempts=%d", v.PINAttempts))
	return nil, &InvalidPINError{Remaining: g.cfg.PINMaxAttempts - v.PINAttempts}
}
