package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"storagedesk/config"
	"storagedesk/internal/apperr"
	"storagedesk/internal/auth"
	"storagedesk/internal/domain"
	"storagedesk/internal/models"
	"storagedesk/internal/repository"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCreds = apperr.ValidationError.New("invalid email or password")
	ErrEmailExists  = apperr.ConflictError.New("email already registered")
)

// Tokens is a freshly issued access/refresh pair.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type AuthService struct {
	cfg   *config.Config
	staff *repository.StaffRepository
}

func NewAuthService(cfg *config.Config, staff *repository.StaffRepository) *AuthService {
	return &AuthService{cfg: cfg, staff: staff}
}

// CreateStaff registers an operator account. Unknown roles become clerk.
func (s *AuthService) CreateStaff(ctx context.Context, email, name, password, role string) (*models.Staff, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(password) < 8 {
		return nil, apperr.ValidationError.New("email and a password of at least 8 characters are required")
	}
	switch role {
	case domain.RoleAdmin, domain.RoleManager, domain.RoleClerk:
	default:
		role = domain.RoleClerk
	}
	_, err := s.staff.GetByEmail(ctx, email)
	if err == nil {
		return nil, ErrEmailExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.StoreError.Wrap(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	st := &models.Staff{Email: email, Name: name, PasswordHash: string(hash), Role: role}
	if err := s.staff.Create(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*models.Staff, *Tokens, error) {
	st, err := s.staff.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidCreds
		}
		return nil, nil, apperr.StoreError.Wrap(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(st.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCreds
	}
	tokens, err := s.issue(st)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	if err := s.staff.TouchLogin(ctx, st.ID, now); err == nil {
		st.LastLoginAt = &now
	}
	return st, tokens, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	id, err := auth.ParseRefreshToken(&s.cfg.JWT, refreshToken)
	if err != nil {
		return nil, apperr.ValidationError.Wrap(err)
	}
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		if apperr.NotFoundError.Has(err) {
			return nil, apperr.ValidationError.Wrap(auth.ErrInvalidToken)
		}
		return nil, err
	}
	return s.issue(st)
}

func (s *AuthService) issue(st *models.Staff) (*Tokens, error) {
	if !s.cfg.AuthEnabled() {
		return nil, apperr.ConfigError.New("JWT_ACCESS_SECRET is not set")
	}
	access, err := auth.GenerateAccessToken(&s.cfg.JWT, st.ID, st.Email, st.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := auth.GenerateRefreshToken(&s.cfg.JWT, st.ID)
	if err != nil {
		return nil, err
	}
	return &Tokens{AccessToken: access, RefreshToken: refresh}, nil
}
