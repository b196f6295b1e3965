package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/govrec/govrec/pkg/errutil"
)

// Password length bounds, in characters
const (
	MinPasswordLength = 8
	MaxPasswordLength = 255
)

var (
	loginIDRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{4,50}$`)
	emailRegex   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	mobileRegex  = regexp.MustCompile(`^\+?[0-9][0-9-]{7,19}$`)
)

// fieldErrors collects per-field messages; the first message for a field wins
type fieldErrors map[string]string

func (f fieldErrors) add(field, message string) {
	if _, ok := f[field]; !ok {
		f[field] = message
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return errutil.ValidationFields(f)
}

func validPasswordLength(password string) bool {
	n := utf8.RuneCountInString(password)
	return n >= MinPasswordLength && n <= MaxPasswordLength
}

func checkLength(errs fieldErrors, field, value string, lo, hi int) {
	n := utf8.RuneCountInString(value)
	if n < lo || n > hi {
		errs.add(field, fmt.Sprintf("must be between %d and %d characters", lo, hi))
	}
}

// validateSignup checks field formats. Uniqueness is checked separately.
func validateSignup(req *SignupRequest) error {
	req.LoginID = strings.TrimSpace(req.LoginID)
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.Mobile = strings.TrimSpace(req.Mobile)
	req.FullName = strings.TrimSpace(req.FullName)

	errs := fieldErrors{}

	switch {
	case req.LoginID == "":
		errs.add("loginId", "is required")
	case !loginIDRegex.MatchString(req.LoginID):
		errs.add("loginId", "must be 4-50 letters, digits, '.', '_' or '-'")
	}

	if req.Username == "" {
		errs.add("username", "is required")
	} else {
		checkLength(errs, "username", req.Username, 2, 50)
	}

	switch {
	case req.Email == "":
		errs.add("email", "is required")
	case utf8.RuneCountInString(req.Email) > 100 || !emailRegex.MatchString(req.Email):
		errs.add("email", "must be a valid email address")
	}

	if req.Mobile != "" && !mobileRegex.MatchString(req.Mobile) {
		errs.add("mobile", "must be a valid phone number")
	}

	if req.FullName != "" {
		checkLength(errs, "fullName", req.FullName, 1, 100)
	}
	if req.Department != "" {
		checkLength(errs, "department", req.Department, 1, 100)
	}
	if req.Position != "" {
		checkLength(errs, "position", req.Position, 1, 100)
	}

	if !validPasswordLength(req.Password) {
		errs.add("password", "must be between 8 and 255 characters")
	}
	if req.Password != req.ConfirmPassword {
		errs.add("confirmPassword", "does not match password")
	}

	return errs.err()
}

// validatePasswordChange checks the new password pair
func validatePasswordChange(req ChangePasswordRequest) error {
	errs := fieldErrors{}
	if req.CurrentPassword == "" {
		errs.add("currentPassword", "is required")
	}
	if req.NewPassword != req.ConfirmNewPassword {
		errs.add("confirmNewPassword", "does not match new password")
	}
	if !validPasswordLength(req.NewPassword) {
		errs.add("newPassword", "must be between 8 and 255 characters")
	}
	return errs.err()
}
