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

const adminSessionPrefix = "admin_session:"

type SessionCache struct {
	store Store
}

func NewSessionCache(store Store) *SessionCache {
	return &SessionCache{store: store}
}

// Create stores s under its token until s.ExpiresAt.
func (c *SessionCache) Create(ctx context.Context, s *models.AdminSession) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}
	raw, err := json.Marshal(sessionRecord{
		AdminID:    s.AdminID,
		EmployeeID: s.EmployeeID,
		FullName:   s.FullName,
		Role:       s.Role,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode admin session: %w", err)
	}
	ok, err := c.store.SetNX(ctx, adminSessionPrefix+s.Token, raw, ttl)
	if err != nil {
		util.Error("Failed to store admin session", zap.String("admin_id", s.AdminID), zap.Error(err))
		return fmt.Errorf("failed to store admin session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session token collision")
	}
	return nil
}

func (c *SessionCache) Get(ctx context.Context, token string) (*models.AdminSession, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.store.Get(ctx, adminSessionPrefix+token)
	if err != nil {
		return nil, err
	}
	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode admin session: %w", err)
	}
	return &models.AdminSession{
		Token:      token,
		AdminID:    rec.AdminID,
		EmployeeID: rec.EmployeeID,
		FullName:   rec.FullName,
		Role:       rec.Role,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
	}, nil
}

func (c *SessionCache) Delete(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.store.Delete(ctx, adminSessionPrefix+token)
}

// sessionRecord exists because AdminSession hides its token from JSON.
type sessionRecord struct {
	AdminID    string    `json:"admin_id"`
	EmployeeID string    `json:"employee_id"`
	FullName   string    `json:"full_name"`
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
