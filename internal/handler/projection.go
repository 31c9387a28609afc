package handler

import (
	"time"

	"github.com/sakif/accounts/internal/model"
)

// PROJECTIONS:
// model.User carries no json tags. Each endpoint picks one of the structs
// below and copies exactly the fields it is allowed to show. None of them has
// a password field, so a hash can never end up in a response.
//
//	UserListItem  → GET /users/            id, username
//	UserView      → register, login, profile
//	UserDetail    → GET /users/{id}/       UserView + is_active
//	AdminUserView → GET /admin/users/      UserDetail + is_staff

// UserListItem is one row of the user list.
type UserListItem struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// UserView is a user as seen by themselves: register, login and profile responses.
type UserView struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	DateJoined time.Time  `json:"date_joined"`
	LastLogin  *time.Time `json:"last_login"`
}

// UserDetail is the single-user view any authenticated caller may fetch.
type UserDetail struct {
	UserView
	IsActive bool `json:"is_active"`
}

// AdminUserView is a row of the staff-only user list.
type AdminUserView struct {
	UserDetail
	IsStaff bool `json:"is_staff"`
}

func newUserListItem(u *model.User) UserListItem {
	return UserListItem{ID: u.ID, Username: u.Username}
}

func newUserView(u *model.User) UserView {
	return UserView{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		DateJoined: u.DateJoined,
		LastLogin:  u.LastLogin,
	}
}

func newUserDetail(u *model.User) UserDetail {
	return UserDetail{UserView: newUserView(u), IsActive: u.IsActive}
}

func newAdminUserView(u *model.User) AdminUserView {
	return AdminUserView{UserDetail: newUserDetail(u), IsStaff: u.IsStaff}
}

// project maps every user through fn. The result is never nil, so an empty
// listing encodes as [] rather than null.
func project[T any](users []model.User, fn func(*model.User) T) []T {
	out := make([]T, 0, len(users))
	for i := range users {
		out = append(out, fn(&users[i]))
	}
	return out
}
