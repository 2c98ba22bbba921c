package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"civic-shield/internal/bucketing"
	"civic-shield/internal/models"
	"civic-shield/internal/repository/cache"
)

func newOTPGuard(t *testing.T) (*OTPGuard, *capturingSender, *clock, *recordingAudit) {
	t.Helper()
	sender := &capturingSender{}
	clk := newClock()
	audit := &recordingAudit{}
	g := NewOTPGuard(cache.NewOTPCache(cache.NewMemoryStore()), sender, bucketing.NewBucketingManager(4), audit, testConfig().Guard, zaptest.NewLogger(t))
	g.now = clk.Now
	return g, sender, clk, audit
}

func TestGenerateCodeIsSixDigits(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.NotEqual(t, byte('0'), code[0])
	}
}

func TestOTPVerifySucceedsOnce(t *testing.T) {
	ctx := context.Background()
	g, sender, _, audit := newOTPGuard(t)

	issue, err := g.Issue(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, sender.last(), issue.Code)

	require.NoError(t, g.Verify(ctx, "V1", issue.Code))
	assert.ErrorIs(t, g.Verify(ctx, "V1", issue.Code), ErrOTPSessionExpired)
	assert.Contains(t, audit.types(), models.EventOTPVerified)
}

func TestOTPLocksOnThirdMismatch(t *testing.T) {
	ctx := context.Background()
	g, _, _, audit := newOTPGuard(t)

	issue, err := g.Issue(ctx, "V1")
	require.NoError(t, err)

	assert.ErrorIs(t, g.Verify(ctx, "V1", "000000"), ErrOTPMismatch)
	assert.ErrorIs(t, g.Verify(ctx, "V1", "000000"), ErrOTPMismatch)
	assert.ErrorIs(t, g.Verify(ctx, "V1", "000000"), ErrOTPLocked)

	// The session is gone, so even the right code no longer works.
	assert.ErrorIs(t, g.Verify(ctx, "V1", issue.Code), ErrOTPSessionExpired)
	assert.Contains(t, audit.types(), models.EventOTPLocked)
}

func TestOTPExpiry(t *testing.T) {
	ctx := context.Background()
	g, _, clk, _ := newOTPGuard(t)

	issue, err := g.Issue(ctx, "V1")
	require.NoError(t, err)

	clk.Advance(2*time.Minute + time.Second)
	assert.ErrorIs(t, g.Verify(ctx, "V1", issue.Code), ErrOTPExpired)
	assert.ErrorIs(t, g.Verify(ctx, "V1", issue.Code), ErrOTPSessionExpired)
}

type undeletableOTPs struct {
	*cache.OTPCache
}

func (undeletableOTPs) Delete(context.Context, string) error {
	return errors.New("READONLY You can't write against a read only replica")
}

func TestOTPRefusalLogsFailedDelete(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	clk := newClock()
	cfg := testConfig().Guard
	g := NewOTPGuard(undeletableOTPs{cache.NewOTPCache(cache.NewMemoryStore())}, &capturingSender{},
		bucketing.NewBucketingManager(4), &recordingAudit{}, cfg, zap.New(core))
	g.now = clk.Now

	issue, err := g.Issue(ctx, "V1")
	require.NoError(t, err)

	clk.Advance(cfg.OTPTTL + time.Second)
	assert.ErrorIs(t, g.Verify(ctx, "V1", issue.Code), ErrOTPExpired)
	assert.ErrorIs(t, g.Verify(ctx, "V1", issue.Code), ErrOTPExpired, "a leftover record is refused again")

	failed := logs.FilterMessage("Failed to delete OTP session").All()
	require.Len(t, failed, 2)
	assert.Equal(t, "V1", failed[0].ContextMap()["voter_id"])
}

func TestOTPResend(t *testing.T) {
	ctx := context.Background()
	g, _, clk, _ := newOTPGuard(t)

	first, err := g.Issue(ctx, "V1")
	require.NoError(t, err)

	_, err = g.Resend(ctx, "V1")
	assert.ErrorIs(t, err, ErrOTPCooldown)

	clk.Advance(31 * time.Second)
	second, err := g.Resend(ctx, "V1")
	require.NoError(t, err)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))

	if first.Code != second.Code {
		assert.ErrorIs(t, g.Verify(ctx, "V1", first.Code), ErrOTPMismatch)
	}
	require.NoError(t, g.Verify(ctx, "V1", second.Code))
}

func TestOTPResendLimit(t *testing.T) {
	ctx := context.Background()
	g, _, clk, _ := newOTPGuard(t)

	_, err := g.Issue(ctx, "V1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		clk.Advance(31 * time.Second)
		_, err := g.Resend(ctx, "V1")
		require.NoError(t, err)
	}
	clk.Advance(31 * time.Second)
	_, err = g.Resend(ctx, "V1")
	assert.ErrorIs(t, err, ErrOTPLimitExceeded)

	_, err = g.Resend(ctx, "V1")
	assert.ErrorIs(t, err, ErrOTPSessionExpired)
}

func TestOTPResendWithoutSession(t *testing.T) {
	g, _, _, _ := newOTPGuard(t)
	_, err := g.Resend(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrOTPSessionExpired)
}

func TestOTPHidesCodeUnlessExposed(t *testing.T) {
	g, sender, _, _ := newOTPGuard(t)
	g.cfg.OTPExposeCode = false

	issue, err := g.Issue(context.Background(), "V1")
	require.NoError(t, err)
	assert.Empty(t, issue.Code)
	assert.Len(t, sender.last(), 6)
}

func TestOTPRequiresInput(t *testing.T) {
	g, _, _, _ := newOTPGuard(t)
	_, err := g.Issue(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, g.Verify(context.Background(), "V1", ""), ErrInvalidInput)
}

func newPINGuard(t *testing.T, v *models.Voter) (*PINGuard, *fakeVoters, *clock) {
	t.Helper()
	voters := newFakeVoters(v)
	clk := newClock()
	g := NewPINGuard(voters, testHasher(), bucketing.NewBucketingManager(4), &recordingAudit{}, testConfig().Guard, zaptest.NewLogger(t))
	g.now = clk.Now
	return g, voters, clk
}

func TestPINLockoutLiftsAfterDuration(t *testing.T) {
	ctx := context.Background()
	g, voters, clk := newPINGuard(t, &models.Voter{ID: 1, UID: "V1", PIN: "1234", AccountStatus: models.AccountActive})

	_, err := g.Verify(ctx, "V1", "0000")
	var pinErr *InvalidPINError
	require.ErrorAs(t, err, &pinErr)
	assert.Equal(t, 2, pinErr.Remaining)
	assert.ErrorIs(t, err, ErrInvalidPIN)

	_, err = g.Verify(ctx, "V1", "0000")
	require.ErrorAs(t, err, &pinErr)
	assert.Equal(t, 1, pinErr.Remaining)

	lockedAt := clk.Now()
	_, err = g.Verify(ctx, "V1", "0000")
	assert.ErrorIs(t, err, ErrAccountLocked)

	stored := voters.get("V1")
	assert.Equal(t, models.AccountLocked, stored.AccountStatus)
	require.NotNil(t, stored.LockTime)
	assert.True(t, lockedAt.Equal(*stored.LockTime))

	clk.Advance(4*time.Minute + 59*time.Second)
	_, err = g.Verify(ctx, "V1", "1234")
	assert.ErrorIs(t, err, ErrAccountLocked)

	clk.Advance(2 * time.Second)
	v, err := g.Verify(ctx, "V1", "1234")
	require.NoError(t, err)
	assert.Equal(t, "V1", v.UID)

	stored = voters.get("V1")
	assert.Equal(t, models.AccountActive, stored.AccountStatus)
	assert.Zero(t, stored.PINAttempts)
	assert.Nil(t, stored.LockTime)
}

func TestPINWrongAfterUnlockStartsFresh(t *testing.T) {
	ctx := context.Background()
	past := newClock().Now().Add(-time.Hour)
	g, voters, _ := newPINGuard(t, &models.Voter{
		ID: 1, UID: "V1", PIN: "1234",
		AccountStatus: models.AccountLocked, PINAttempts: 3, LockTime: &past,
	})

	_, err := g.Verify(ctx, "V1", "9999")
	var pinErr *InvalidPINError
	require.ErrorAs(t, err, &pinErr)
	assert.Equal(t, 2, pinErr.Remaining)
	assert.Equal(t, 1, voters.get("V1").PINAttempts)
}

func TestPINLockedWithoutLockTimeUnlocks(t *testing.T) {
	g, _, _ := newPINGuard(t, &models.Voter{ID: 1, UID: "V1", PIN: "1234", AccountStatus: models.AccountLocked, PINAttempts: 3})

	_, err := g.Verify(context.Background(), "V1", "1234")
	assert.NoError(t, err)
}

func TestPINSuccessResetsAttempts(t *testing.T) {
	g, voters, _ := newPINGuard(t, &models.Voter{ID: 1, UID: "V1", PIN: "1234", AccountStatus: models.AccountActive, PINAttempts: 2})

	_, err := g.Verify(context.Background(), "V1", "1234")
	require.NoError(t, err)
	assert.Zero(t, voters.get("V1").PINAttempts)
}

func TestPINHashedCredential(t *testing.T) {
	hashed, err := testHasher().Hash("1234")
	require.NoError(t, err)
	g, _, _ := newPINGuard(t, &models.Voter{ID: 1, UID: "V1", PIN: hashed, AccountStatus: models.AccountActive})

	_, err = g.Verify(context.Background(), "V1", "1234")
	assert.NoError(t, err)
}

func TestPINUnknownVoter(t *testing.T) {
	g, _, _ := newPINGuard(t, &models.Voter{ID: 1, UID: "V1", PIN: "1234"})

	_, err := g.Verify(context.Background(), "V2", "1234")
	assert.ErrorIs(t, err, ErrVoterNotFound)
}
