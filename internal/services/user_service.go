package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/baharkarakas/balance-ledger/internal/auth"
	"github.com/baharkarakas/balance-ledger/internal/config"
	"github.com/baharkarakas/balance-ledger/internal/models"
	repo "github.com/baharkarakas/balance-ledger/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUser        = errors.New("invalid user")
	ErrUserExists         = errors.New("user already exists")
)

type UserService struct {
	r  repo.Users
	tm *auth.TokenManager
	c  config.Config
}

func NewUserService(r repo.Users, tm *auth.TokenManager, c config.Config) *UserService {
	return &UserService{r: r, tm: tm, c: c}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

// Register creates an active account. The email named by ADMIN_EMAIL is the
// only way to obtain the admin role.
func (s *UserService) Register(ctx context.Context, actor, username, email, password string) (models.User, error) {
	u := models.User{Username: strings.TrimSpace(username), Email: strings.ToLower(strings.TrimSpace(email)), Role: "user"}
	if admin := strings.ToLower(strings.TrimSpace(s.c.AdminEmail)); admin != "" && u.Email == admin {
		u.Role = "admin"
	}
	if err := u.Validate(); err != nil {
		return models.User{}, errors.Join(ErrInvalidUser, err)
	}
	if len(password) < auth.MinPasswordLen {
		return models.User{}, errors.Join(ErrInvalidUser, errors.New("password too short"))
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	u.PasswordHash = hash
	if actor == "" {
		actor = s.c.DefaultActor
	}
	created, err := s.r.Create(ctx, actor, u)
	if errors.Is(err, repo.ErrAlreadyExists) {
		return models.User{}, ErrUserExists
	}
	return created, err
}

func (s *UserService) Login(ctx context.Context, email, password string) (TokenPair, error) {
	u, err := s.r.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repo.ErrNotFound) {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, err
	}
	if !u.IsActive || auth.VerifyPassword(password, u.PasswordHash) != nil {
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issue(u.ID, u.Role)
}

func (s *UserService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, isRefresh, err := s.tm.ParseAny(refreshToken)
	if err != nil || !isRefresh {
		return TokenPair{}, ErrInvalidCredentials
	}
	u, err := s.r.GetByID(ctx, claims.UserID)
	if err != nil || !u.IsActive {
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issue(u.ID, u.Role)
}

func (s *UserService) issue(userID, role string) (TokenPair, error) {
	access, refresh, exp, err := s.tm.GeneratePair(userID, role)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(exp).Seconds()),
	}, nil
}
