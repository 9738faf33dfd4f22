/*
Package auth identifies the acting back-office user.

PURPOSE:
  Users log in with username/password (bcrypt hashes) and receive an HS256
  JWT. Every /api request carries it either as a Bearer header or as the
  access_token cookie. Handlers read the user id from the request context
  to stamp sales and transactions.

KEY TYPES:
  User:         A back-office account (admin or cashier)
  UserStore:    Persistence, implemented by store/sqlite and store/postgres
  TokenManager: Issues and verifies access tokens
  Service:      Login and admin bootstrap

SEE ALSO:
  - middleware.go: Request authentication
  - api/handlers_auth.go: Login/logout/me endpoints
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrInactiveUser       = errors.New("user is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Role limits what a user may do.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCashier Role = "cashier"
)

// User is a back-office account.
type User struct {
	ID           int64
	Username     string
	FullName     string
	PasswordHash string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
}

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CountUsers(ctx context.Context) (int, error)
}

// =============================================================================
// PASSWORDS
// =============================================================================

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// =============================================================================
// TOKENS
// =============================================================================

// Claims is the access token payload.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration, issuer string) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}
}

// TTL is the lifetime of issued tokens.
func (m *TokenManager) TTL() time.Duration { return m.ttl }

// Issue signs a token for u and returns it with its expiry.
func (m *TokenManager) Issue(u *User) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.ttl)
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

// Parse validates signature, algorithm and expiry.
func (m *TokenManager) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// =============================================================================
// SERVICE
// =============================================================================

// Service authenticates users.
type Service struct {
	users  UserStore
	tokens *TokenManager
	logger *zap.Logger
}

func NewService(users UserStore, tokens *TokenManager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, tokens: tokens, logger: logger}
}

func (s *Service) Tokens() *TokenManager { return s.tokens }

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (*User, string, time.Time, error) {
	u, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, "", time.Time{}, ErrInactiveUser
	}
	token, expires, err := s.tokens.Issue(u)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return u, token, expires, nil
}

// CurrentUser loads the user named by claims.
func (s *Service) CurrentUser(ctx context.Context, claims *Claims) (*User, error) {
	return s.users.GetUser(ctx, claims.UserID)
}

// EnsureAdmin creates the initial admin when the user table is empty.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	n, err := s.users.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	u := &User{Username: username, FullName: "Administrator", PasswordHash: hash, Role: RoleAdmin, IsActive: true}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return err
	}
	s.logger.Info("seeded admin user", zap.String("username", username))
	return nil
}
