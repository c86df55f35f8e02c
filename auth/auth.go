// Package auth issues and verifies bearer tokens and handles account
// registration and login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"chatserver/models"
	"chatserver/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid token")
	ErrRateLimited        = errors.New("too many login attempts")
)

const tokenTTL = 24 * time.Hour

// UserStore is the slice of the store the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, name, password, userType string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	UpdateUserStatus(ctx context.Context, userID, status string) (models.User, error)
}

// LoginResult is the /auth/* response body.
type LoginResult struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type Service struct {
	secret  []byte
	users   UserStore
	limiter LoginRateLimiter
}

func NewService(secret string, users UserStore, limiter LoginRateLimiter) *Service {
	if limiter == nil {
		limiter = noopLimiter{}
	}
	return &Service{secret: []byte(secret), users: users, limiter: limiter}
}

// Register creates an account with a bcrypt-hashed password and returns a
// fresh token. A taken email returns ErrEmailTaken.
func (s *Service) Register(ctx context.Context, email, password, name string) (LoginResult, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return LoginResult{}, err
	}
	user, err := s.users.CreateUser(ctx, email, name, string(hash), models.UserTypeRegular)
	if errors.Is(err, store.ErrDuplicate) {
		return LoginResult{}, ErrEmailTaken
	}
	if err != nil {
		return LoginResult{}, err
	}
	return s.issue(user.ID)
}

// Login checks the password, flips the user online and returns a token.
// Only rejected credentials count against the rate limit.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	if !s.limiter.Allow(email) {
		return LoginResult{}, ErrRateLimited
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.limiter.RecordFailure(email)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		s.limiter.RecordFailure(email)
		return LoginResult{}, ErrInvalidCredentials
	}
	if _, err := s.users.UpdateUserStatus(ctx, user.ID, models.StatusOnline); err != nil {
		return LoginResult{}, err
	}
	return s.issue(user.ID)
}

// PersonaLogin logs a seeded persona user in by email alone.
func (s *Service) PersonaLogin(ctx context.Context, email string) (LoginResult, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if user.Type != models.UserTypePersona {
		return LoginResult{}, ErrInvalidCredentials
	}
	if _, err := s.users.UpdateUserStatus(ctx, user.ID, models.StatusOnline); err != nil {
		return LoginResult{}, err
	}
	return s.issue(user.ID)
}

func (s *Service) issue(userID string) (LoginResult, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: signed, UserID: userID}, nil
}

// Verify checks an HS256 token and returns the subject user id. It satisfies
// api.TokenVerifier.
func (s *Service) Verify(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
