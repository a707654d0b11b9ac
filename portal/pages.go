package portal

import (
	"github.com/Seann-Moser/volunteerhub/gate"
	"github.com/Seann-Moser/volunteerhub/session"
)

// Page is a guarded GET route of the portal.
type Page struct {
	Pattern string
	Route   gate.Route
}

var (
	volunteerOnly    = []session.Role{session.RoleVolunteer}
	organizationOnly = []session.Role{session.RoleOrganization}
	adminOnly        = []session.Role{session.RoleAdmin}
)

// Pages is the volunteer platform route table.
func Pages() []Page {
	return []Page{
		{"/auth/login", gate.Route{Name: "login", GuestOnly: true}},
		{"/auth/register", gate.Route{Name: "register", GuestOnly: true}},

		{"/dashboard", gate.Route{Name: "dashboard", Profile: gate.ProfileComplete}},

		{"/events", gate.Route{Name: "events", Profile: gate.ProfileComplete}},
		{"/events/{eventID}", gate.Route{Name: "event-detail", Profile: gate.ProfileComplete}},
		{"/events/new", gate.Route{
			Name:         "event-create",
			Roles:        organizationOnly,
			Profile:      gate.ProfileComplete,
			RoleFallback: "/events",
		}},

		{"/volunteers/questionnaire", gate.Route{
			Name:         "volunteer-questionnaire",
			Roles:        volunteerOnly,
			Profile:      gate.ProfileIncomplete,
			RoleFallback: "/dashboard",
		}},
		{"/volunteers/profile", gate.Route{Name: "volunteer-profile", Roles: volunteerOnly, Profile: gate.ProfileComplete}},
		{"/volunteers/registrations", gate.Route{Name: "volunteer-registrations", Roles: volunteerOnly, Profile: gate.ProfileComplete}},

		{"/organizations/profile/complete", gate.Route{
			Name:         "organization-onboarding",
			Roles:        organizationOnly,
			Profile:      gate.ProfileIncomplete,
			RoleFallback: "/dashboard",
		}},
		{"/organizations/events", gate.Route{Name: "organization-events", Roles: organizationOnly, Profile: gate.ProfileComplete}},
		{"/organizations/events/{eventID}/roster", gate.Route{Name: "organization-roster", Roles: organizationOnly, Profile: gate.ProfileComplete}},

		{"/admin/reports", gate.Route{Name: "admin-reports", Roles: adminOnly}},
	}
}

// onboardingRoute guards the onboarding completion form.
var onboardingRoute = gate.Route{
	Name:         "onboarding-complete",
	Roles:        []session.Role{session.RoleVolunteer, session.RoleOrganization},
	Profile:      gate.ProfileIncomplete,
	RoleFallback: "/dashboard",
}

// NewRouteTable returns the page table for navigation outside HTTP.
func NewRouteTable() *gate.RouteTable {
	t := gate.NewRouteTable()
	for _, p := range Pages() {
		t.Handle(p.Pattern, p.Route)
	}
	return t
}
