// Package authpw provides email/password authentication with verification.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hubo/api/internal/store"
	"hubo/api/internal/util"
)

const (
	minPasswordLength = 8
	verificationTTL   = 24 * time.Hour
	resetTTL          = time.Hour
)

var (
	ErrMissingFields      = errors.New("email, password, and display name are required")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

// Mailer delivers verification and reset links. email.Service satisfies it.
type Mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type Service struct {
	store  UserStore
	mailer Mailer
	appURL string
}

// NewService creates a new auth service. mailer may be nil; links are then
// only returned to the caller.
func NewService(store UserStore, mailer Mailer, appURL string) *Service {
	return &Service{
		store:  store,
		mailer: mailer,
		appURL: strings.TrimRight(appURL, "/"),
	}
}

type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

type SignUpResponse struct {
	UserID              string
	VerificationToken   string
	RequiresEmailVerify bool
}

// SignUp creates a new member account awaiting email verification.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return nil, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	user := store.User{
		ID:                util.NewID(""),
		DisplayName:       name,
		Email:             email,
		PasswordHash:      string(hash),
		Role:              "member",
		VerificationToken: verificationToken,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	expiresAt := time.Now().Add(verificationTTL)
	if err := s.store.UpdateUserVerificationToken(ctx, user.ID, verificationToken, expiresAt); err != nil {
		return nil, fmt.Errorf("set verification expiry: %w", err)
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		link := s.appURL + "/verify-email?token=" + verificationToken
		if err := s.mailer.SendVerificationEmail(user.Email, user.DisplayName, link); err != nil {
			log.Printf("authpw: verification email to %s failed: %v", user.Email, err)
		}
	}

	return &SignUpResponse{
		UserID:              user.ID,
		VerificationToken:   verificationToken,
		RequiresEmailVerify: true,
	}, nil
}

type SignInRequest struct {
	Email    string
	Password string
}

type SignInResponse struct {
	User           store.User
	RequiresVerify bool
}

// SignIn checks the password first; an unverified account with a correct
// password gets RequiresVerify instead of a session.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &SignInResponse{
		User:           user,
		RequiresVerify: !user.IsEmailVerified,
	}, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if err := s.store.VerifyUserEmail(ctx, token); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// RequestPasswordReset creates a reset token and mails the link. Unknown
// addresses return an empty token and no error.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		return "", nil
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	if err := s.store.CreatePasswordReset(ctx, user.ID, token, time.Now().Add(resetTTL)); err != nil {
		return "", err
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		link := s.appURL + "/reset-password?token=" + token
		if err := s.mailer.SendPasswordResetEmail(user.Email, user.DisplayName, link); err != nil {
			log.Printf("authpw: reset email to %s failed: %v", user.Email, err)
		}
	}
	return token, nil
}

type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" || req.NewPassword == "" {
		return ErrInvalidToken
	}
	if len(req.NewPassword) < minPasswordLength {
		return ErrWeakPassword
	}

	userID, err := s.store.GetPasswordReset(ctx, req.Token)
	if err != nil {
		return ErrInvalidToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.store.MarkPasswordResetUsed(ctx, req.Token); err != nil {
		log.Printf("authpw: mark reset token used failed: %v", err)
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
