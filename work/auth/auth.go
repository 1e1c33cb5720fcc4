// Package auth manages user accounts and the bearer sessions used by the management API.
package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"iptv-gate/work/logger"
	"iptv-gate/work/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/grafana/regexp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrUserExists         = errors.New("username or email already registered")
	ErrInvalidUser        = errors.New("invalid user details")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrUserNotFound       = errors.New("user not found")
)

const (
	sessionKeyInfo = "iptv-gate session v1"
	issuer         = "iptv-gate"
	minPassword    = 8
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,50}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// UserRepository is the account storage the service needs.
type UserRepository interface {
	InsertUser(ctx context.Context, u *types.User) error
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	UserExists(ctx context.Context, username, email string) (bool, error)
	ListUsers(ctx context.Context) ([]*types.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	UpdateUserRole(ctx context.Context, id string, role types.Role) (bool, error)
}

// Claims is the payload of a session token.
type Claims struct {
	Username string     `json:"username"`
	Role     types.Role `json:"role"`
	jwt.RegisteredClaims
}

// RegisterRequest is the body of a registration call.
type RegisterRequest struct {
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     types.Role `json:"role,omitempty"`
}

// Session is returned by a successful login.
type Session struct {
	Token     string      `json:"access_token"`
	TokenType string      `json:"token_type"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *types.User `json:"user"`
}

// Service handles registration, login and session verification.
type Service struct {
	users UserRepository
	key   []byte
	ttl   time.Duration
	cost  int
	now   func() time.Time
}

// NewService derives the session signing key from secret. The key is distinct from the
// proxy-token key even though both come from the same secret.
func NewService(users UserRepository, secret string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sessionKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("auth: derive key: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{users: users, key: key, ttl: ttl, cost: bcrypt.DefaultCost, now: time.Now}, nil
}

// WithCost returns a copy of s hashing passwords at the given bcrypt cost. Used by tests.
func (s *Service) WithCost(cost int) *Service {
	cp := *s
	cp.cost = cost
	return &cp
}

// WithClock returns a copy of s reading time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// Register creates an account. Anonymous callers and non-admins can only create viewers;
// an admin caller may pick any role.
func (s *Service) Register(ctx context.Context, caller *types.Identity, req RegisterRequest) (*types.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if !usernamePattern.MatchString(req.Username) {
		return nil, fmt.Errorf("%w: username must be 3-50 letters, digits, '.', '_' or '-'", ErrInvalidUser)
	}
	if !emailPattern.MatchString(req.Email) {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidUser)
	}
	if len(req.Password) < minPassword {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidUser, minPassword)
	}

	role := types.RoleViewer
	if req.Role != "" && req.Role != types.RoleViewer {
		if caller == nil || !caller.IsAdmin() {
			return nil, fmt.Errorf("%w: only administrators can assign roles", ErrForbidden)
		}
		if !req.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidUser, req.Role)
		}
		role = req.Role
	}

	return s.create(ctx, req.Username, req.Email, req.Password, role)
}

func (s *Service) create(ctx context.Context, username, email, password string, role types.Role) (*types.User, error) {
	exists, err := s.users.UserExists(ctx, username, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &types.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.InsertUser(ctx, u); err != nil {
		return nil, err
	}

	logger.Info("{auth/auth - create} registered %s user %s", role, username)
	return u, nil
}

// Login checks credentials and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		logger.Debug("{auth/auth - Login} bad password for %s", u.Username)
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		logger.Warn("{auth/auth - Login} failed to record login for %s: %v", u.Username, err)
	} else {
		u.LastLogin = &now
	}

	tok, exp, err := s.issue(u, now)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, TokenType: "bearer", ExpiresAt: exp, User: u}, nil
}

func (s *Service) issue(u *types.User, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.ttl)
	claims := &Claims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, exp, nil
}

// Authenticate verifies a session token and reloads the account so role changes and
// deactivation take effect immediately.
func (s *Service) Authenticate(ctx context.Context, tok string) (*types.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	u, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive {
		return nil, ErrUnauthenticated
	}
	return &types.Identity{UserID: u.ID, Username: u.Username, Role: u.Role}, nil
}

// Me returns the account behind an identity.
func (s *Service) Me(ctx context.Context, id *types.Identity) (*types.User, error) {
	u, err := s.users.GetUserByID(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// ListUsers returns every account. Admin only.
func (s *Service) ListUsers(ctx context.Context, caller types.Identity) ([]*types.User, error) {
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.users.ListUsers(ctx)
}

// UpdateRole changes another account's role. Admin only.
func (s *Service) UpdateRole(ctx context.Context, caller types.Identity, userID string, role types.Role) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidUser, role)
	}
	ok, err := s.users.UpdateUserRole(ctx, userID, role)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	logger.Info("{auth/auth - UpdateRole} %s set role of %s to %s", caller.Username, userID, role)
	return nil
}

// Bootstrap creates the administrator named in the settings file when no account with that
// username exists yet. It is a no-op when username or password is empty.
func (s *Service) Bootstrap(ctx context.Context, username, email, password string) error {
	if username == "" || password == "" {
		return nil
	}
	existing, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.Debug("{auth/auth - Bootstrap} admin %s already present", username)
		return nil
	}
	if email == "" {
		email = username + "@localhost.localdomain"
	}
	if _, err := s.create(ctx, username, strings.ToLower(email), password, types.RoleAdmin); err != nil {
		return fmt.Errorf("failed to create admin %s: %w", username, err)
	}
	return nil
}
