package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveElectionStatus(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	assert.Equal(t, ElectionScheduled, DeriveElectionStatus(&after, nil, now))
	assert.Equal(t, ElectionClosed, DeriveElectionStatus(&before, &before, now))
	assert.Equal(t, ElectionActive, DeriveElectionStatus(&before, &after, now))
	assert.Equal(t, ElectionActive, DeriveElectionStatus(nil, nil, now))
}

func TestOptionalPresence(t *testing.T) {
	var req struct {
		Name   Optional[string] `json:"name"`
		Status Optional[string] `json:"status"`
		Active Optional[bool]   `json:"isActive"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"name":"General","status":null}`), &req))

	assert.True(t, req.Name.Set)
	assert.Equal(t, "General", req.Name.Value)
	assert.True(t, req.Status.Set)
	assert.True(t, req.Status.Null)
	assert.False(t, req.Active.Set)
}

func TestAdminSessionExpired(t *testing.T) {
	now := time.Now()
	s := &AdminSession{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(time.Minute)))
}
