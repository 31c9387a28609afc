package auth

import (
	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/model"
)

// Tier is the access level an operation demands.
type Tier int

const (
	// TierOpen admits everyone, anonymous callers included.
	TierOpen Tier = iota
	// TierAuthenticated admits any caller that presented a valid token.
	TierAuthenticated
	// TierAdmin admits authenticated staff users only.
	TierAdmin
)

// String returns the tier name used in logs.
func (t Tier) String() string {
	switch t {
	case TierOpen:
		return "open"
	case TierAuthenticated:
		return "authenticated"
	case TierAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Messages used by Require. Handlers and tests compare against them.
const (
	MsgNotAuthenticated = "Authentication credentials were not provided."
	MsgPermissionDenied = "You do not have permission to perform this action."
)

// Identity is who is making a request. It is resolved once per request and
// passed explicitly into every service operation.
//
// The zero value is the anonymous identity.
type Identity struct {
	User  *model.User
	Token string // key the caller presented; empty when anonymous
}

// Anonymous returns the identity of a caller without a usable token.
func Anonymous() Identity {
	return Identity{}
}

// IsAuthenticated reports whether the request carried a valid token.
func (id Identity) IsAuthenticated() bool {
	return id.User != nil
}

// IsAdmin reports whether the caller is authenticated staff.
func (id Identity) IsAdmin() bool {
	return id.User != nil && id.User.IsStaff
}

// Require checks the identity against tier.
//
//	anonymous      + authenticated/admin → apperror.ErrUnauthorized
//	authenticated  + admin, not staff    → apperror.ErrForbidden
func (id Identity) Require(tier Tier) error {
	switch tier {
	case TierOpen:
		return nil
	case TierAuthenticated:
		if !id.IsAuthenticated() {
			return apperror.Unauthorized(MsgNotAuthenticated)
		}
		return nil
	case TierAdmin:
		if !id.IsAuthenticated() {
			return apperror.Unauthorized(MsgNotAuthenticated)
		}
		if !id.IsAdmin() {
			return apperror.Forbidden(MsgPermissionDenied)
		}
		return nil
	default:
		return apperror.Forbidden(MsgPermissionDenied)
	}
}
