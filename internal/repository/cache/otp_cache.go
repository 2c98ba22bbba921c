package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"civic-shield/internal/models"
	"civic-shield/internal/util"
)

const (
	otpPrefix = "otp:"
	opTimeout = 5 * time.Second
)

// OTPCache stores one OTP record per voter.
type OTPCache struct {
	store Store
}

func NewOTPCache(store Store) *OTPCache {
	return &OTPCache{store: store}
}

func (c *OTPCache) Get(ctx context.Context, voterUID string) (*models.OTPRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.store.Get(ctx, otpPrefix+voterUID)
	if err != nil {
		return nil, err
	}
	var rec models.OTPRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode otp record: %w", err)
	}
	return &rec, nil
}

// Save writes rec. retention bounds how long the record survives in the
// store and must outlive rec.ExpiresAt so expiry can be reported.
func (c *OTPCache) Save(ctx context.Context, voterUID string, rec *models.OTPRecord, retention time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode otp record: %w", err)
	}
	if err := c.store.Set(ctx, otpPrefix+voterUID, raw, retention); err != nil {
		util.Error("Failed to save OTP record", zap.String("voter_id", voterUID), zap.Error(err))
		return fmt.Errorf("failed to save OTP record: %w", err)
	}
	return nil
}

func (c *OTPCache) Delete(ctx context.Context, voterUID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.store.Delete(ctx, otpPrefix+voterUID); err != nil {
		util.Error("Failed to delete OTP record", zap.String("voter_id", voterUID), zap.Error(err))
		return fmt.Errorf("failed to delete OTP record: %w", err)
	}
	return nil
}
