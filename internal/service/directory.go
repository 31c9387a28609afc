package service

import (
	"context"
	"fmt"

	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/repository"
)

// MaxListLimit caps an explicit page size. A zero limit still means "all".
const MaxListLimit = 1000

// DirectoryService lists and looks up users.
//
// It returns full model.User records; each HTTP endpoint picks its own
// projection (handler/projection.go), so the list view can expose id and
// username only while the admin view exposes everything.
type DirectoryService struct {
	users repository.UserRepository
}

// NewDirectoryService creates a DirectoryService over the user table.
func NewDirectoryService(users repository.UserRepository) *DirectoryService {
	return &DirectoryService{users: users}
}

// normalize clamps pagination to sane bounds.
func normalize(opts repository.ListOptions) repository.ListOptions {
	if opts.Limit < 0 {
		opts.Limit = 0
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

// ListUsers returns users in ascending id order. Any authenticated caller.
func (s *DirectoryService) ListUsers(ctx context.Context, identity auth.Identity, opts repository.ListOptions) ([]model.User, error) {
	if err := identity.Require(auth.TierAuthenticated); err != nil {
		return nil, err
	}
	return s.list(ctx, opts)
}

// GetUser returns one user by id. Any authenticated caller.
func (s *DirectoryService) GetUser(ctx context.Context, identity auth.Identity, id int64) (*model.User, error) {
	if err := identity.Require(auth.TierAuthenticated); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/directory: %w", err)
	}
	return user, nil
}

// ListUsersAdmin is ListUsers for staff only.
func (s *DirectoryService) ListUsersAdmin(ctx context.Context, identity auth.Identity, opts repository.ListOptions) ([]model.User, error) {
	if err := identity.Require(auth.TierAdmin); err != nil {
		return nil, err
	}
	return s.list(ctx, opts)
}

func (s *DirectoryService) list(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	users, err := s.users.List(ctx, normalize(opts))
	if err != nil {
		return nil, fmt.Errorf("service/directory: listing users: %w", err)
	}
	return users, nil
}
