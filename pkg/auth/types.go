package auth

import (
	"time"

	"github.com/govrec/govrec/pkg/errutil"
)

// UserStatus is the account state
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusLocked   UserStatus = "locked"
	UserStatusDisabled UserStatus = "disabled"
)

// CanLogin reports whether the status permits authentication
func (s UserStatus) CanLogin() bool {
	return s == UserStatusActive
}

// User represents a registered account
type User struct {
	ID             int64      `json:"id"`
	LoginID        string     `json:"login_id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	Mobile         string     `json:"mobile,omitempty"`
	PasswordHash   string     `json:"-"` // Never expose hash
	FullName       string     `json:"full_name,omitempty"`
	Department     string     `json:"department,omitempty"`
	Position       string     `json:"position,omitempty"`
	Roles          []string   `json:"roles"`
	Status         UserStatus `json:"status"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Clone returns a deep copy
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	if u.LastActivityAt != nil {
		t := *u.LastActivityAt
		c.LastActivityAt = &t
	}
	return &c
}

// UniqueField names a user attribute that must be globally unique
type UniqueField string

// Unique fields in the order signup checks them
const (
	FieldLoginID  UniqueField = "loginId"
	FieldUsername UniqueField = "username"
	FieldEmail    UniqueField = "email"
	FieldMobile   UniqueField = "mobile"
)

// UniqueFields lists every unique field in check order
var UniqueFields = []UniqueField{FieldLoginID, FieldUsername, FieldEmail, FieldMobile}

// DuplicateCode returns the error code reported when the field collides
func (f UniqueField) DuplicateCode() string {
	switch f {
	case FieldLoginID:
		return errutil.CodeDuplicateLoginID
	case FieldUsername:
		return errutil.CodeDuplicateUsername
	case FieldEmail:
		return errutil.CodeDuplicateEmail
	case FieldMobile:
		return errutil.CodeDuplicateMobile
	}
	return errutil.CodeValidation
}

// value returns the user's value for the field
func (f UniqueField) value(u *User) string {
	switch f {
	case FieldLoginID:
		return u.LoginID
	case FieldUsername:
		return u.Username
	case FieldEmail:
		return u.Email
	case FieldMobile:
		return u.Mobile
	}
	return ""
}

// LoginRequest is the input of Service.Login
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// LogoutResult describes a completed logout
type LogoutResult struct {
	UserID      int64     `json:"userId,omitempty"`
	LoggedOutAt time.Time `json:"loggedOutAt"`
	HadSession  bool      `json:"hadSession"`
}

// ChangePasswordRequest is the input of Service.ChangePassword
type ChangePasswordRequest struct {
	CurrentPassword    string `json:"currentPassword"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

// SignupRequest is the input of Service.Signup
type SignupRequest struct {
	LoginID         string `json:"loginId"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Mobile          string `json:"mobile"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	FullName        string `json:"fullName"`
	Department      string `json:"department"`
	Position        string `json:"position"`
}

// Profile is the caller's own account as shown by /auth/me
type Profile struct {
	UserID           int64      `json:"userId"`
	LoginID          string     `json:"loginId"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	Mobile           string     `json:"mobile,omitempty"`
	FullName         string     `json:"fullName,omitempty"`
	Department       string     `json:"department,omitempty"`
	Position         string     `json:"position,omitempty"`
	Authorities      []string   `json:"authorities"`
	LastActivityAt   *time.Time `json:"lastActivityAt,omitempty"`
	SessionExpiresAt *time.Time `json:"sessionExpiresAt,omitempty"`
}
