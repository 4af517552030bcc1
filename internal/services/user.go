package services

import (
	"context"
	"errors"

	"github.com/bidhouse/apiserver/internal/store"
	"github.com/bidhouse/apiserver/types"
	"go.uber.org/zap"
)

// UserRepository defines persistence operations for accounts.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.Account, error)
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	Update(ctx context.Context, account types.Account) (types.Account, error)
	UpdateAvatarByEmail(ctx context.Context, email, avatar string) error
	Delete(ctx context.Context, id string) error
}

// UpdateUserInput lists the profile fields a user may change. Nil fields
// are left as they are.
type UpdateUserInput struct {
	FirstName *string
	LastName  *string
	Email     *string
	Avatar    *string
}

// UserService encapsulates account use-cases.
type UserService struct {
	repo   UserRepository
	logger *zap.Logger
}

func NewUserService(repo UserRepository, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, logger: logger}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.PublicAccount, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.PublicAccount{}, newError(ErrNotFound, "user with ID %s not found", id)
		}
		return types.PublicAccount{}, err
	}
	return account.Public(), nil
}

// GetByEmail returns the public view of the account registered under email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (types.PublicAccount, error) {
	account, err := s.Account(ctx, email)
	if err != nil {
		return types.PublicAccount{}, err
	}
	return account.Public(), nil
}

// Account returns the full account record, password hash included. It is
// meant for credential checks and must not be serialized to clients.
func (s *UserService) Account(ctx context.Context, email string) (types.Account, error) {
	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, newError(ErrNotFound, "user not found")
		}
		return types.Account{}, err
	}
	return account, nil
}

// Create registers a new account. The password must already be hashed.
func (s *UserService) Create(ctx context.Context, account types.Account) (types.PublicAccount, error) {
	if _, err := s.repo.GetByEmail(ctx, account.Email); err == nil {
		return types.PublicAccount{}, newError(ErrConflict, "user with that email already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.PublicAccount{}, err
	}

	created, err := s.repo.Create(ctx, account)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.PublicAccount{}, newError(ErrConflict, "user with that email already exists")
		}
		s.logger.Error("create user failed", zap.String("email", account.Email), zap.Error(err))
		return types.PublicAccount{}, newError(ErrBadInput, "something went wrong while creating a new user")
	}

	s.logger.Info("user registered", zap.String("user_id", created.ID))
	return created.Public(), nil
}

// Update applies the profile fields of input. Identifier, password and
// timestamps cannot be changed here.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (types.PublicAccount, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.PublicAccount{}, newError(ErrNotFound, "user with ID %s not found", id)
		}
		return types.PublicAccount{}, err
	}

	if input.FirstName != nil {
		account.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		account.LastName = *input.LastName
	}
	if input.Email != nil {
		account.Email = *input.Email
	}
	if input.Avatar != nil {
		account.Avatar = *input.Avatar
	}

	updated, err := s.repo.Update(ctx, account)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return types.PublicAccount{}, newError(ErrNotFound, "user with ID %s not found", id)
		case errors.Is(err, store.ErrConflict):
			return types.PublicAccount{}, newError(ErrConflict, "user with that email already exists")
		}
		return types.PublicAccount{}, err
	}
	return updated.Public(), nil
}

func (s *UserService) UpdateAvatarByEmail(ctx context.Context, email, imagePath string) error {
	if err := s.repo.UpdateAvatarByEmail(ctx, email, imagePath); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrNotFound, "user not found")
		}
		return err
	}
	return nil
}

// Delete removes the account unconditionally. Callers decide who may do so.
func (s *UserService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrNotFound, "user with ID %s not found", id)
		}
		return err
	}
	s.logger.Info("user deleted", zap.String("user_id", id))
	return nil
}
