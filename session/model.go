package session

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the authenticated principal's platform role.
type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RoleVolunteer    Role = "VOLUNTEER"
	RoleOrganization Role = "ORGANIZATION"
)

// ParseRole accepts role names case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleVolunteer, RoleOrganization:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// UserStatus is the coarse account state persisted next to the session
// under the userStatus key.
type UserStatus string

const (
	StatusActive     UserStatus = "ACTIVE"
	StatusOnboarding UserStatus = "ONBOARDING"
	StatusUnverified UserStatus = "UNVERIFIED"
	StatusLocked     UserStatus = "LOCKED"
	StatusExpired    UserStatus = "EXPIRED"
)

// UserIdentity holds the authenticated user as reported by the backend.
type UserIdentity struct {
	ID                     string `json:"id"`
	Email                  string `json:"email"`
	Role                   Role   `json:"role"`
	EmailVerified          bool   `json:"emailVerified"`
	QuestionnaireCompleted bool   `json:"questionnaireCompleted"`
	ProfileCompleted       bool   `json:"profileCompleted"`
	AccountLocked          bool   `json:"accountLocked"`
	AccountExpired         bool   `json:"accountExpired"`
}

// Onboarded reports the role-appropriate profile completeness flag.
// Volunteers onboard through the questionnaire, organizations by completing
// their profile. Admins have no onboarding.
func (u UserIdentity) Onboarded() bool {
	switch u.Role {
	case RoleVolunteer:
		return u.QuestionnaireCompleted
	case RoleOrganization:
		return u.ProfileCompleted
	default:
		return true
	}
}

// Status derives the persisted account status. Locked wins over expired.
func (u UserIdentity) Status() UserStatus {
	switch {
	case u.AccountLocked:
		return StatusLocked
	case u.AccountExpired:
		return StatusExpired
	case !u.EmailVerified:
		return StatusUnverified
	case !u.Onboarded():
		return StatusOnboarding
	default:
		return StatusActive
	}
}

// Session is the client's authentication state. A nil AccessToken or an
// empty RefreshToken means absent.
type Session struct {
	AccessToken  *Token        `json:"accessToken,omitempty"`
	RefreshToken string        `json:"refreshToken,omitempty"`
	CurrentUser  *UserIdentity `json:"currentUser,omitempty"`
}

// Empty returns the zero session held at process start and after logout.
func Empty() Session {
	return Session{}
}

// Authenticated reports whether an access token is present, fresh or not.
func (s Session) Authenticated() bool {
	return s.AccessToken != nil
}

// Clone deep-copies the session so snapshots never alias store state.
func (s Session) Clone() Session {
	out := Session{RefreshToken: s.RefreshToken}
	if s.AccessToken != nil {
		t := *s.AccessToken
		out.AccessToken = &t
	}
	if s.CurrentUser != nil {
		u := *s.CurrentUser
		out.CurrentUser = &u
	}
	return out
}

// Validate checks the invariants a session must satisfy before it is stored.
func (s Session) Validate() error {
	if s.AccessToken == nil {
		return errors.New("session has no access token")
	}
	if s.AccessToken.Value == "" {
		return fmt.Errorf("%w: empty access token", ErrInvalidToken)
	}
	if s.AccessToken.ExpiresAt.Before(s.AccessToken.IssuedAt) {
		return fmt.Errorf("%w: expires before it was issued", ErrInvalidToken)
	}
	if s.CurrentUser != nil {
		if s.CurrentUser.ID == "" {
			return errors.New("session user has no id")
		}
		if _, err := ParseRole(string(s.CurrentUser.Role)); err != nil {
			return err
		}
	}
	return nil
}
