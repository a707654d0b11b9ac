package gate

import (
	"time"

	"github.com/Seann-Moser/volunteerhub/session"
)

// Action is the store side effect a verdict asks the caller to perform.
type Action int

const (
	ActionNone Action = iota
	// ActionClear drops the session before redirecting.
	ActionClear
	// ActionRefresh asks the caller to refresh the access token and
	// evaluate again. Decision then holds the outcome to use when no
	// refresh can be attempted.
	ActionRefresh
)

func (a Action) String() string {
	switch a {
	case ActionClear:
		return "clear"
	case ActionRefresh:
		return "refresh"
	default:
		return "none"
	}
}

// Verdict pairs a decision with the side effect it requires.
type Verdict struct {
	Decision Decision
	Action   Action
}

// Evaluate applies the admission rules to a session snapshot. The first
// matching rule wins:
//
//  1. no access token: login
//  2. fresh token, account locked: locked page
//  3. fresh token, account expired: expired page
//  4. expired token, no refresh token: clear, login
//  5. expired token with refresh token: refresh, then evaluate again
//  6. role not admitted by the route: route fallback
//  7. onboarding route but onboarding done: dashboard
//  8. route needs onboarding but it is not done: onboarding page
//  9. allow
//
// Rules 7 and 8 never apply to admins. GuestOnly routes only send users
// holding a fresh token to the dashboard.
//
// Evaluate does not touch the session; callers carry out Action.
func Evaluate(sess session.Session, route Route, paths Paths, now time.Time) Verdict {
	fresh := !session.IsExpired(sess.AccessToken, now)

	if route.GuestOnly {
		if fresh && sess.CurrentUser != nil {
			return Verdict{Decision: RedirectTo(paths.Dashboard, ReasonAlreadyAuthenticated)}
		}
		return Verdict{Decision: Allow()}
	}

	if sess.AccessToken == nil {
		return Verdict{Decision: RedirectTo(paths.Login, ReasonNotAuthenticated)}
	}
	user := sess.CurrentUser
	if user == nil {
		// A token without a known subject cannot be checked against roles.
		return Verdict{Decision: RedirectTo(paths.Login, ReasonNotAuthenticated), Action: ActionClear}
	}

	if fresh {
		if user.AccountLocked {
			return Verdict{Decision: RedirectTo(paths.AccountLocked, ReasonAccountLocked)}
		}
		if user.AccountExpired {
			return Verdict{Decision: RedirectTo(paths.AccountExpired, ReasonAccountExpired)}
		}
	} else {
		if sess.RefreshToken == "" {
			return Verdict{Decision: RedirectTo(paths.Login, ReasonTokenExpired), Action: ActionClear}
		}
		return Verdict{Decision: RedirectTo(paths.Login, ReasonRefreshRequired), Action: ActionRefresh}
	}

	if !route.admits(user.Role) {
		return Verdict{Decision: RedirectTo(paths.roleFallback(route), ReasonRoleMismatch)}
	}

	if user.Role != session.RoleAdmin {
		switch {
		case route.Profile == ProfileIncomplete && user.Onboarded():
			return Verdict{Decision: RedirectTo(paths.Dashboard, ReasonOnboardingDone)}
		case route.Profile == ProfileComplete && !user.Onboarded():
			return Verdict{Decision: RedirectTo(paths.OnboardingPath(user.Role), ReasonOnboardingRequired)}
		}
	}

	return Verdict{Decision: Allow()}
}

// Decide returns the decision for a snapshot without performing any side
// effect. It is final only when Evaluate reports ActionNone. An expired
// token that still has a refresh token yields a login redirect with
// ReasonRefreshRequired, which is right only for callers that never
// refresh; callers that can refresh must use Evaluate or Guard.Check.
func Decide(sess session.Session, route Route, paths Paths, now time.Time) Decision {
	return Evaluate(sess, route, paths, now).Decision
}
