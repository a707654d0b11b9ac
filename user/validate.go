package user

import (
	"errors"
	"regexp"

	"github.com/Seann-Moser/volunteerhub/session"
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Password must:
//   - be 8–64 characters long
//   - include at least one lowercase letter
//   - include at least one uppercase letter
//   - include at least one digit
//   - include at least one special character (non-alphanumeric)
var (
	lowerRegex   = regexp.MustCompile(`[a-z]`)
	upperRegex   = regexp.MustCompile(`[A-Z]`)
	digitRegex   = regexp.MustCompile(`\d`)
	specialRegex = regexp.MustCompile(`[\W_]`)
)

// ValidateEmail returns an error if the email is not plausibly deliverable.
func ValidateEmail(email string) error {
	if len(email) > 254 || !emailRegex.MatchString(email) {
		return errors.New("email address is not valid")
	}
	return nil
}

// ValidatePassword returns an error if the password doesn’t meet policy.
func ValidatePassword(pw string) error {
	if len(pw) < 8 || len(pw) > 64 {
		return errors.New("password must be 8–64 characters long")
	}
	if !lowerRegex.MatchString(pw) {
		return errors.New("password must include at least one lowercase letter")
	}
	if !upperRegex.MatchString(pw) {
		return errors.New("password must include at least one uppercase letter")
	}
	if !digitRegex.MatchString(pw) {
		return errors.New("password must include at least one digit")
	}
	if !specialRegex.MatchString(pw) {
		return errors.New("password must include at least one special character")
	}
	return nil
}

// ValidateRegistration checks a self-service sign-up. Admin accounts are
// only created by seeding.
func ValidateRegistration(email, password string, role session.Role) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if role != session.RoleVolunteer && role != session.RoleOrganization {
		return errors.New("role must be VOLUNTEER or ORGANIZATION")
	}
	return nil
}
