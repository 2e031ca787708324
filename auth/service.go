package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// Service handles operator authentication.
type Service struct {
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
}

// LoginResult bundles the token and account returned after a successful login.
type LoginResult struct {
	Token    string
	Operator Operator
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
	}
}

// Register creates a new operator account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Operator, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.DisplayName == "" {
		return nil, fmt.Errorf("auth: email and display_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleViewer
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("auth: invalid role %q", role)
	}

	op, err := s.repo.CreateOperator(ctx, CreateOperatorParams{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: string(passwordHash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}

	return &op, nil
}

// Bootstrap ensures the configured admin account exists. Without it a fresh
// deployment has no operators at all and login is unreachable. An existing
// account under the email is left untouched, whatever its role.
func (s *Service) Bootstrap(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	if _, err := s.repo.GetOperatorByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, ErrOperatorNotFound) {
		return err
	}

	_, err := s.Register(ctx, RegisterRequest{
		Email:       email,
		Password:    password,
		DisplayName: "Bootstrap Admin",
		Role:        RoleAdmin,
	})
	if errors.Is(err, ErrDuplicateEmail) {
		// Lost a race with a concurrent instance bootstrapping the same
		// account.
		return nil
	}
	return err
}

// Login authenticates an operator and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	op, err := s.repo.GetOperatorByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrOperatorNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(op.ID, op.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{Token: token, Operator: op}, nil
}

// GetOperatorByID retrieves account information by ID.
func (s *Service) GetOperatorByID(ctx context.Context, operatorID string) (*Operator, error) {
	op, err := s.repo.GetOperatorByID(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// VerifyToken validates a JWT token and returns the operator ID and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		operatorID, ok := claims["operator_id"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid operator_id in token")
		}
		roleStr, ok := claims["role"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid role in token")
		}
		role := Role(roleStr)
		if !isValidRole(role) {
			return "", "", fmt.Errorf("auth: invalid role %q in token", roleStr)
		}
		return operatorID, role, nil
	}

	return "", "", fmt.Errorf("auth: invalid token")
}

func (s *Service) generateToken(operatorID string, role Role) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"operator_id": operatorID,
		"role":        role,
		"exp":         now.Add(s.tokenTTL).Unix(),
		"iat":         now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// CanInspectSlots reports whether the role may read operation slot state.
func (r Role) CanInspectSlots() bool {
	return r == RoleOperator || r == RoleAdmin
}

func isValidRole(role Role) bool {
	switch role {
	case RoleViewer, RoleOperator, RoleAdmin:
		return true
	default:
		return false
	}
}
