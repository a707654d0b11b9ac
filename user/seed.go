package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/Seann-Moser/volunteerhub/session"
)

// SeedAccount describes an account created by Seed.
type SeedAccount struct {
	Email                  string
	Password               string
	Role                   session.Role
	QuestionnaireCompleted bool
	ProfileCompleted       bool
	AccountLocked          bool
	AccountExpired         bool
}

// SeedAccounts returns the development accounts, one per interesting
// onboarding and account state.
func SeedAccounts() []SeedAccount {
	return []SeedAccount{
		{Email: "admin@volunteerhub.local", Password: "Admin#2024", Role: session.RoleAdmin},
		{Email: "volunteer@volunteerhub.local", Password: "Volunteer#2024", Role: session.RoleVolunteer, QuestionnaireCompleted: true},
		{Email: "newvolunteer@volunteerhub.local", Password: "Volunteer#2024", Role: session.RoleVolunteer},
		{Email: "org@volunteerhub.local", Password: "Organization#2024", Role: session.RoleOrganization, ProfileCompleted: true},
		{Email: "neworg@volunteerhub.local", Password: "Organization#2024", Role: session.RoleOrganization},
		{Email: "locked@volunteerhub.local", Password: "Locked#2024", Role: session.RoleVolunteer, QuestionnaireCompleted: true, AccountLocked: true},
		{Email: "expired@volunteerhub.local", Password: "Expired#2024", Role: session.RoleVolunteer, QuestionnaireCompleted: true, AccountExpired: true},
	}
}

// Seed creates the given accounts, skipping emails that already exist, and
// reports how many were created.
func Seed(ctx context.Context, store Store, accounts []SeedAccount, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	created := 0
	for _, sa := range accounts {
		_, err := store.GetAccountByEmail(ctx, sa.Email)
		if err == nil {
			logger.DebugContext(ctx, "seed account exists", slog.String("email", sa.Email))
			continue
		}
		if !errors.Is(err, ErrUserNotFound) {
			return created, fmt.Errorf("lookup %s: %w", sa.Email, err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(sa.Password), bcrypt.DefaultCost)
		if err != nil {
			return created, fmt.Errorf("hash password for %s: %w", sa.Email, err)
		}
		account := &Account{
			Email:                  sa.Email,
			PasswordHash:           hash,
			Role:                   sa.Role,
			EmailVerified:          true,
			QuestionnaireCompleted: sa.QuestionnaireCompleted,
			ProfileCompleted:       sa.ProfileCompleted,
			AccountLocked:          sa.AccountLocked,
			AccountExpired:         sa.AccountExpired,
		}
		if err := store.CreateAccount(ctx, account); err != nil {
			if errors.Is(err, ErrAccountExists) {
				continue
			}
			return created, fmt.Errorf("create %s: %w", sa.Email, err)
		}
		created++
		logger.InfoContext(ctx, "seeded account",
			slog.String("email", account.Email),
			slog.String("role", string(account.Role)),
		)
	}
	return created, nil
}
