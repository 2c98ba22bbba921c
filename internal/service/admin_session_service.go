package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"civic-shield/internal/models"
	"civic-shield/internal/repository/cache"
	"civic-shield/internal/schema"
)

const defaultAdminRole = "admin"

// AdminSessionService authenticates administrators and manages their
// bearer sessions.
type AdminSessionService struct {
	admins   AdminStore
	sessions SessionStore
	hasher   CredentialHasher
	audit    AuditRecorder
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewAdminSessionService(admins AdminStore, sessions SessionStore, hasher CredentialHasher, audit AuditRecorder, ttl time.Duration, logger *zap.Logger) *AdminSessionService {
	return &AdminSessionService{
		admins:   admins,
		sessions: sessions,
		hasher:   hasher,
		audit:    audit,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *AdminSessionService) event(ctx context.Context, eventType, employeeID string) {
	s.audit.Record(ctx, models.SecurityEvent{EventType: eventType, SubjectID: employeeID})
}

// Login checks the credentials and opens a session.
func (s *AdminSessionService) Login(ctx context.Context, employeeID, password string) (*models.AdminSession, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" || password == "" {
		return nil, invalidInput("employee id and password are required")
	}

	admin, err := s.admins.FindByEmployeeID(ctx, employeeID)
	if err != nil {
		if errors.Is(err, schema.ErrRowNotFound) {
			s.event(ctx, models.EventAdminLoginFail, employeeID)
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	ok, err := s.hasher.Verify(password, admin.Password)
	if err != nil {
		s.logger.Warn("Stored admin credential unreadable", zap.String("employee_id", employeeID), zap.Error(err))
	}
	if !ok {
		s.event(ctx, models.EventAdminLoginFail, employeeID)
		return nil, ErrUnauthorized
	}
	if !admin.Active {
		s.event(ctx, models.EventAdminLoginFail, employeeID)
		return nil, ErrAdminDisabled
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	role := admin.Role
	if role == "" {
		role = defaultAdminRole
	}
	now := s.now().UTC()
	session := &models.AdminSession{
		Token:      token,
		AdminID:    admin.ID,
		EmployeeID: admin.EmployeeID,
		FullName:   admin.FullName,
		Role:       role,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("Admin logged in", zap.String("employee_id", admin.EmployeeID))
	s.event(ctx, models.EventAdminLogin, admin.EmployeeID)
	return session, nil
}

// Authenticate resolves a bearer token to its live session.
func (s *AdminSessionService) Authenticate(ctx context.Context, token string) (*models.AdminSession, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}

	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if session.Expired(s.now()) {
		if err := s.sessions.Delete(ctx, token); err != nil {
			s.logger.Warn("Failed to drop expired admin session", zap.Error(err))
		}
		return nil, ErrUnauthorized
	}
	return session, nil
}

func (s *AdminSessionService) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return s.sessions.Delete(ctx, token)
}
