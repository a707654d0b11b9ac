package gate

import (
	"slices"

	"github.com/Seann-Moser/volunteerhub/session"
)

// ProfileState is the onboarding state a route requires.
type ProfileState int

const (
	// ProfileAny does not gate on onboarding.
	ProfileAny ProfileState = iota
	// ProfileIncomplete routes are onboarding pages, only reachable before
	// onboarding is finished.
	ProfileIncomplete
	// ProfileComplete routes need onboarding to be finished.
	ProfileComplete
)

func (p ProfileState) String() string {
	switch p {
	case ProfileIncomplete:
		return "incomplete"
	case ProfileComplete:
		return "complete"
	default:
		return "any"
	}
}

// Route is the admission configuration of one navigable route.
type Route struct {
	Name string
	// Roles admitted to the route. Empty admits every authenticated role.
	Roles []session.Role
	// Profile is the onboarding state required by the route.
	Profile ProfileState
	// RoleFallback is where users with another role are sent. Defaults to
	// Paths.Unauthorized.
	RoleFallback string
	// GuestOnly marks login/register style pages: authenticated users are
	// sent to the dashboard instead.
	GuestOnly bool
}

func (r Route) admits(role session.Role) bool {
	return len(r.Roles) == 0 || slices.Contains(r.Roles, role)
}

// Paths are the redirect targets used by the decision rules.
type Paths struct {
	Login          string
	Dashboard      string
	Unauthorized   string
	AccountLocked  string
	AccountExpired string
	Onboarding     map[session.Role]string
}

func DefaultPaths() Paths {
	return Paths{
		Login:          "/auth/login",
		Dashboard:      "/dashboard",
		Unauthorized:   "/unauthorized",
		AccountLocked:  "/auth/account-locked",
		AccountExpired: "/auth/account-expired",
		Onboarding: map[session.Role]string{
			session.RoleVolunteer:    "/volunteers/questionnaire",
			session.RoleOrganization: "/organizations/profile/complete",
		},
	}
}

// OnboardingPath returns the onboarding page for role, or the dashboard when
// the role has none.
func (p Paths) OnboardingPath(role session.Role) string {
	if path, ok := p.Onboarding[role]; ok && path != "" {
		return path
	}
	return p.Dashboard
}

func (p Paths) roleFallback(r Route) string {
	if r.RoleFallback != "" {
		return r.RoleFallback
	}
	return p.Unauthorized
}
