// Package accounts provides username/password signup and login.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"folio/api/internal/auth"
	"folio/api/internal/store"
)

const (
	RoleReader = "reader"
	RoleEditor = "editor"
)

var (
	ErrBadCredentials    = errors.New("invalid username or password")
	ErrDuplicateUsername = errors.New("username already exists")
)

// UserStore is the persistence slice the account service needs.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, u store.User) (store.User, error)
}

type Service struct {
	store     UserStore
	secret    []byte
	accessTTL time.Duration
}

func NewService(st UserStore, secret string, accessTTL time.Duration) *Service {
	return &Service{store: st, secret: []byte(secret), accessTTL: accessTTL}
}

type SignupRequest struct {
	FirstName string
	LastName  string
	Username  string
	Password  string
	Role      string
}

type LoginRequest struct {
	Username string
	Password string
}

// Signup creates an account and returns an access token for it. A taken
// username surfaces as ErrDuplicateUsername.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (string, error) {
	role := req.Role
	if role != RoleReader && role != RoleEditor {
		role = RoleReader
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			return "", ErrDuplicateUsername
		}
		return "", fmt.Errorf("create user: %w", err)
	}

	return s.issueToken(user)
}

// Login verifies the credentials and returns an access token. Lookup and
// password failures are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrBadCredentials
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return "", ErrBadCredentials
	}
	return s.issueToken(user)
}

func (s *Service) issueToken(user store.User) (string, error) {
	token, err := auth.IssueToken(s.secret, auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		Role: user.Role,
		Exp:  time.Now().Add(s.accessTTL).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}
