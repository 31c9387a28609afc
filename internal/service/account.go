package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/repository"
)

// AccountService reads and edits the caller's own profile.
type AccountService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// NewAccountService creates an AccountService over the user table.
func NewAccountService(users repository.UserRepository, logger *slog.Logger) *AccountService {
	return &AccountService{users: users, logger: logger}
}

// ProfileUpdate carries the editable profile fields. A nil pointer means
// "leave unchanged", which is how PATCH sends only some fields.
type ProfileUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
}

// GetProfile returns the caller's own record, freshly loaded from the store.
// There is no way to read another user through this path.
func (s *AccountService) GetProfile(ctx context.Context, identity auth.Identity) (*model.User, error) {
	if err := identity.Require(auth.TierAuthenticated); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, identity.User.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: loading profile: %w", err)
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of upd to the caller's record.
//
// A non-empty email that already belongs to a DIFFERENT user is rejected with
// a ValidationError on email. Keeping one's own email, or clearing it, is
// always allowed.
func (s *AccountService) UpdateProfile(ctx context.Context, identity auth.Identity, upd ProfileUpdate) (*model.User, error) {
	if err := identity.Require(auth.TierAuthenticated); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, identity.User.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: loading profile: %w", err)
	}

	var fe apperror.FieldErrors
	if upd.Email != nil {
		if checkField(&fe, "email", *upd.Email, ruleEmail) && *upd.Email != "" {
			taken, err := s.users.EmailTakenByOther(ctx, *upd.Email, user.ID)
			if err != nil {
				return nil, fmt.Errorf("service/account: checking email: %w", err)
			}
			if taken {
				fe.Add("email", msgEmailTaken)
			}
		}
		user.Email = *upd.Email
	}
	if upd.FirstName != nil {
		checkField(&fe, "first_name", *upd.FirstName, ruleName)
		user.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		checkField(&fe, "last_name", *upd.LastName, ruleName)
		user.LastName = *upd.LastName
	}
	if err := fe.Err(); err != nil {
		return nil, err
	}

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("service/account: saving profile: %w", err)
	}

	s.logger.Info("profile updated", slog.Int64("userID", user.ID))
	return user, nil
}
