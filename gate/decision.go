package gate

// Reason names why a decision was reached. It is used for logs and metric
// labels, never shown to the user.
type Reason string

const (
	ReasonAllowed              Reason = "allowed"
	ReasonNotAuthenticated     Reason = "not_authenticated"
	ReasonAccountLocked        Reason = "account_locked"
	ReasonAccountExpired       Reason = "account_expired"
	ReasonTokenExpired         Reason = "token_expired_no_refresh"
	ReasonRefreshRequired      Reason = "refresh_required"
	ReasonRefreshRejected      Reason = "refresh_rejected"
	ReasonRoleMismatch         Reason = "role_mismatch"
	ReasonOnboardingDone       Reason = "onboarding_complete"
	ReasonOnboardingRequired   Reason = "onboarding_required"
	ReasonAlreadyAuthenticated Reason = "already_authenticated"
)

// Decision is the outcome of one admission check: either allow the
// navigation or redirect it to Path.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Path    string `json:"path,omitempty"`
	Reason  Reason `json:"reason"`
}

func Allow() Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

func RedirectTo(path string, reason Reason) Decision {
	return Decision{Path: path, Reason: reason}
}

func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return "redirect " + d.Path + " (" + string(d.Reason) + ")"
}
