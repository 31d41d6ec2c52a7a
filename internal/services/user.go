package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otpgate/apiserver/internal/apperr"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/store"
	"github.com/otpgate/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const msgUserDeleted = "User deleted successfully"

// NewUser is the input for UserService.Create.
type NewUser struct {
	Email      string
	Password   string
	IsVerified *bool
}

// UserUpdate is the input for UserService.Update. Nil fields are unchanged.
type UserUpdate struct {
	Email      *string
	Password   *string
	IsVerified *bool
}

// UserService manages accounts with the user role. Accounts with any other
// role are reported as not found.
type UserService struct {
	repo  UserRepository
	log   logging.Logger
	clock func() time.Time
}

func NewUserService(repo UserRepository, log logging.Logger) *UserService {
	return &UserService{repo: repo, log: log, clock: time.Now}
}

func (s *UserService) List(ctx context.Context) ([]types.User, error) {
	users, err := s.repo.ListByRole(ctx, types.RoleUser)
	if err != nil {
		return nil, apperr.Internal("Failed to fetch users", err)
	}
	if users == nil {
		users = []types.User{}
	}
	return users, nil
}

func (s *UserService) Get(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && user.Role != types.RoleUser) {
		return types.User{}, notFound(id)
	}
	if err != nil {
		return types.User{}, apperr.Internal("Failed to fetch user", err)
	}
	return user, nil
}

func (s *UserService) Create(ctx context.Context, in NewUser) (types.User, error) {
	if _, err := s.repo.GetByEmail(ctx, in.Email); err == nil {
		return types.User{}, apperr.Conflict(msgEmailTaken)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, apperr.Internal("Failed to create user", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), BcryptCost)
	if err != nil {
		return types.User{}, apperr.Internal("Failed to create user", err)
	}

	verified := true
	if in.IsVerified != nil {
		verified = *in.IsVerified
	}
	now := s.clock()
	user, err := s.repo.Create(ctx, types.User{
		Email:        in.Email,
		PasswordHash: string(hash),
		IsVerified:   verified,
		Role:         types.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, store.ErrConflict) {
		return types.User{}, apperr.Conflict(msgEmailTaken)
	}
	if err != nil {
		return types.User{}, apperr.Internal("Failed to create user", err)
	}

	s.log.Info(ctx, "user created", "user_id", user.ID, "email", user.Email)
	return user, nil
}

func (s *UserService) Update(ctx context.Context, id string, in UserUpdate) (types.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	if in.Email != nil && *in.Email != user.Email {
		if _, err := s.repo.GetByEmail(ctx, *in.Email); err == nil {
			return types.User{}, apperr.Conflict(msgEmailTaken)
		} else if !errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.Internal("Failed to update user", err)
		}
	}

	patch := types.UserPatch{Email: in.Email, IsVerified: in.IsVerified}
	if in.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), BcryptCost)
		if err != nil {
			return types.User{}, apperr.Internal("Failed to update user", err)
		}
		h := string(hash)
		patch.PasswordHash = &h
	}
	user.Apply(patch)
	user.UpdatedAt = s.clock()

	user, err = s.repo.Update(ctx, user)
	switch {
	case errors.Is(err, store.ErrConflict):
		return types.User{}, apperr.Conflict(msgEmailTaken)
	case errors.Is(err, store.ErrNotFound):
		return types.User{}, notFound(id)
	case err != nil:
		return types.User{}, apperr.Internal("Failed to update user", err)
	}

	s.log.Info(ctx, "user updated", "user_id", user.ID, "email", user.Email)
	return user, nil
}

func (s *UserService) Delete(ctx context.Context, id string) (string, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", notFound(id)
		}
		return "", apperr.Internal("Failed to delete user", err)
	}
	s.log.Info(ctx, "user deleted", "user_id", id, "email", user.Email)
	return msgUserDeleted, nil
}

func notFound(id string) error {
	return apperr.NotFound(fmt.Sprintf("User with ID %s not found", id))
}
