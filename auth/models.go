package auth

import "time"

type Role string

const (
	// RoleViewer can read public dashboard data only.
	RoleViewer Role = "viewer"
	// RoleOperator can additionally inspect operation slots and recovery state.
	RoleOperator Role = "operator"
	// RoleAdmin can manage accounts.
	RoleAdmin Role = "admin"
)

// Operator is the domain representation of a dashboard account. No JSON tags
// here; the HTTP layer shapes its own responses.
type Operator struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest carries a new account submitted by an admin.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// LoginRequest carries login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
