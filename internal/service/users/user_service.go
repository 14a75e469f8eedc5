package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/EchoWang-1/Flight-Servers/internal/repository"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUserNotFound     = errors.New("user not found")
	ErrWrongPassword    = errors.New("wrong password")
	ErrWrongOldPassword = errors.New("wrong old password")
	ErrUsernameTaken    = errors.New("username already exists")
	ErrPhoneTaken       = errors.New("phone already registered")
	ErrIDCardTaken      = errors.New("id card already registered")
)

type UserUseCase interface {
	Login(ctx context.Context, input LoginInput) (*domain.User, error)
	Register(ctx context.Context, input RegisterInput) (*domain.User, error)
	CheckPhone(ctx context.Context, phone string) (bool, error)
	CheckIDCard(ctx context.Context, idCard string) (bool, error)
	GetInfo(ctx context.Context, username string) (*domain.User, error)
	ChangePassword(ctx context.Context, input ChangePasswordInput) error
}

type LoginInput struct {
	Phone    string `validate:"required"`
	Password string `validate:"required"`
}

type RegisterInput struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required,max=72"`
	Phone    string `validate:"required,max=20"`
	IDCard   string `validate:"omitempty,max=32"`
}

type ChangePasswordInput struct {
	Username    string `validate:"required"`
	OldPassword string `validate:"required"`
	NewPassword string `validate:"required,max=72"`
}

type UserService struct {
	users    repository.UserRepository
	validate *validator.Validate
	cost     int
	logger   *zap.Logger
}

type UserServiceOption func(*UserService)

// WithHashCost overrides the bcrypt cost, mainly to keep tests fast.
func WithHashCost(cost int) UserServiceOption {
	return func(s *UserService) {
		s.cost = cost
	}
}

func WithLogger(logger *zap.Logger) UserServiceOption {
	return func(s *UserService) {
		s.logger = logger
	}
}

func NewUserService(users repository.UserRepository, opts ...UserServiceOption) *UserService {
	s := &UserService{
		users:    users,
		validate: validator.New(),
		cost:     bcrypt.DefaultCost,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashPassword is exported for provisioning tools that seed users.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *UserService) Login(ctx context.Context, input LoginInput) (*domain.User, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	user, err := s.users.GetByPhone(ctx, input.Phone)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)) != nil {
		return nil, ErrWrongPassword
	}
	return user, nil
}

func (s *UserService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	checks := []struct {
		exists func(context.Context, string) (bool, error)
		value  string
		err    error
	}{
		{s.users.Exists, input.Username, ErrUsernameTaken},
		{s.users.PhoneExists, input.Phone, ErrPhoneTaken},
		{s.users.IDCardExists, input.IDCard, ErrIDCardTaken},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		exists, err := c.exists(ctx, c.value)
		if err != nil {
			return nil, fmt.Errorf("failed to check user: %w", err)
		}
		if exists {
			return nil, c.err
		}
	}

	hash, err := HashPassword(input.Password, s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		Username:     input.Username,
		PasswordHash: hash,
		Phone:        input.Phone,
		IDCard:       input.IDCard,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user registered", zap.String("username", user.Username))
	return user, nil
}

func (s *UserService) CheckPhone(ctx context.Context, phone string) (bool, error) {
	if phone == "" {
		return false, ErrInvalidInput
	}
	return s.users.PhoneExists(ctx, phone)
}

func (s *UserService) CheckIDCard(ctx context.Context, idCard string) (bool, error) {
	if idCard == "" {
		return false, ErrInvalidInput
	}
	return s.users.IDCardExists(ctx, idCard)
}

func (s *UserService) GetInfo(ctx context.Context, username string) (*domain.User, error) {
	if username == "" {
		return nil, ErrInvalidInput
	}
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (s *UserService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	if err := s.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	user, err := s.GetInfo(ctx, input.Username)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.OldPassword)) != nil {
		return ErrWrongOldPassword
	}

	hash, err := HashPassword(input.NewPassword, s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, input.Username, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

var _ UserUseCase = (*UserService)(nil)
