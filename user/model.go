package user

import (
	"time"

	"github.com/Seann-Moser/volunteerhub/session"
)

// =============================================================================
// Core Data Structures
// =============================================================================

// Account is a platform account as stored by the development backend.
type Account struct {
	ID           string       `bson:"_id" json:"id"`
	Email        string       `bson:"email" json:"email"`
	PasswordHash []byte       `bson:"password_hash,omitempty" json:"-"`
	Role         session.Role `bson:"role" json:"role"`

	EmailVerified bool `bson:"email_verified" json:"emailVerified"`
	// QuestionnaireCompleted is the volunteer onboarding flag.
	QuestionnaireCompleted bool `bson:"questionnaire_completed" json:"questionnaireCompleted"`
	// ProfileCompleted is the organization onboarding flag.
	ProfileCompleted bool `bson:"profile_completed" json:"profileCompleted"`
	AccountLocked    bool `bson:"account_locked" json:"accountLocked"`
	AccountExpired   bool `bson:"account_expired" json:"accountExpired"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

func (a *Account) UserID() string {
	return a.ID
}

// Identity is the view of the account carried in client sessions.
func (a *Account) Identity() session.UserIdentity {
	return session.UserIdentity{
		ID:                     a.ID,
		Email:                  a.Email,
		Role:                   a.Role,
		EmailVerified:          a.EmailVerified,
		QuestionnaireCompleted: a.QuestionnaireCompleted,
		ProfileCompleted:       a.ProfileCompleted,
		AccountLocked:          a.AccountLocked,
		AccountExpired:         a.AccountExpired,
	}
}

// onboardingField is the bson field holding the role's onboarding flag.
func onboardingField(role session.Role) (string, bool) {
	switch role {
	case session.RoleVolunteer:
		return "questionnaire_completed", true
	case session.RoleOrganization:
		return "profile_completed", true
	default:
		return "", false
	}
}

func (a *Account) markOnboarded() {
	switch a.Role {
	case session.RoleVolunteer:
		a.QuestionnaireCompleted = true
	case session.RoleOrganization:
		a.ProfileCompleted = true
	}
}
