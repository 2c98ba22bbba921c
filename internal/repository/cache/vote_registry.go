package cache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const (
	castPrefix     = "vote:cast:"
	inflightPrefix = "vote:inflight:"
)

// VoteRegistry records ledger-confirmed casts and guards in-flight ones.
type VoteRegistry struct {
	store Store
}

func NewVoteRegistry(store Store) *VoteRegistry {
	return &VoteRegistry{store: store}
}

// Acquire claims the in-flight slot for a voter. It returns false when
// another cast for the same voter holds it.
func (r *VoteRegistry) Acquire(ctx context.Context, voterUID string, ttl time.Duration) (bool, error) {
	return r.store.SetNX(ctx, inflightPrefix+voterUID, []byte(time.Now().UTC().Format(time.RFC3339Nano)), ttl)
}

func (r *VoteRegistry) Release(ctx context.Context, voterUID string) error {
	return r.store.Delete(ctx, inflightPrefix+voterUID)
}

// Cast markers are keyed by the voter's row id, so a voter re-created under
// the same external id starts clean.
func castKey(voterID int64) string {
	return castPrefix + strconv.FormatInt(voterID, 10)
}

// MarkCast stores the confirmed transaction id. The marker never expires.
func (r *VoteRegistry) MarkCast(ctx context.Context, voterID int64, txID string) error {
	return r.store.Set(ctx, castKey(voterID), []byte(txID), 0)
}

// Clear drops the marker of a deleted voter.
func (r *VoteRegistry) Clear(ctx context.Context, voterID int64) error {
	return r.store.Delete(ctx, castKey(voterID))
}

// CastTx returns the confirmed transaction id, or "" when none is recorded.
func (r *VoteRegistry) CastTx(ctx context.Context, voterID int64) (string, error) {
	raw, err := r.store.Get(ctx, castKey(voterID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(raw), nil
}
