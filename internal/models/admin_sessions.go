package models

import "time"

type AdminSession struct {
	Token      string    `json:"-"`
	AdminID    string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	FullName   string    `json:"full_name"`
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *AdminSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AdminAccount is an administrator row as read from the admins table.
type AdminAccount struct {
	ID         string
	EmployeeID string
	Password   string
	FullName   string
	Role       string
	Active     bool
}
