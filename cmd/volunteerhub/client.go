package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Seann-Moser/volunteerhub/backend"
	"github.com/Seann-Moser/volunteerhub/gate"
	"github.com/Seann-Moser/volunteerhub/logger"
	"github.com/Seann-Moser/volunteerhub/portal"
	"github.com/Seann-Moser/volunteerhub/session"
)

// cliNamespace is the storage namespace of the command line session.
const cliNamespace = "cli"

// clientSession is the CLI's view of one stored session plus the
// collaborators needed to act on it.
type clientSession struct {
	store  *session.Store
	client *backend.Client
	guard  *gate.Guard
	logger *slog.Logger
	close  func()
}

func openClientSession(cmd *cobra.Command, opts *rootOptions) (*clientSession, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	log := logger.NewWithWriter("volunteerhub-cli", cfg.LogLevel, cmd.ErrOrStderr())

	factory, closeStorage, err := sessionStorage(cmd.Context(), cfg, opts.stateDir, log)
	if err != nil {
		return nil, err
	}
	store := session.NewStore(factory(cliNamespace), log)
	if err := store.Restore(cmd.Context()); err != nil {
		closeStorage()
		return nil, fmt.Errorf("restore session: %w", err)
	}

	client := newBackendClient(cfg.Backend, nil, log)
	guard := gate.NewGuard(newRefresher(cfg.Backend, client, log), gate.DefaultPaths(), gate.WithLogger(log))
	return &clientSession{
		store:  store,
		client: client,
		guard:  guard,
		logger: log,
		close:  closeStorage,
	}, nil
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long: `Log in to the platform backend with email and password. The session is
stored for later navigate, whoami and logout calls.

Examples:
  volunteerhub login --email org@volunteerhub.local --password 'Organization#2024'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openClientSession(cmd, opts)
			if err != nil {
				return err
			}
			defer cs.close()

			sess, err := cs.client.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := cs.store.Login(cmd.Context(), sess); err != nil {
				return fmt.Errorf("save session: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Logged in as %s (%s)\n", sess.CurrentUser.Email, sess.CurrentUser.Role)
			return printLanding(cmd.Context(), out, cs)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&password, "password", "", "account password (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// printLanding reports where the freshly logged in user ends up when
// opening the dashboard.
func printLanding(ctx context.Context, out io.Writer, cs *clientSession) error {
	nav := gate.NewNavigator(cs.guard, cs.store, portal.NewRouteTable())
	d, err := nav.Navigate(ctx, cs.guard.Paths().Dashboard)
	if err != nil {
		return err
	}
	if !d.Allowed {
		fmt.Fprintf(out, "Next step: %s (%s)\n", d.Path, d.Reason)
	}
	return nil
}

func newNavigateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "navigate PATH...",
		Short: "Check which portal pages the stored session may open",
		Long: `Run the portal's admission check for each path in order, refreshing the
stored session when its access token has expired. Each line shows the
path and either "allow" or the redirect target with its reason.

Examples:
  volunteerhub navigate /dashboard /events/new /admin/reports`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openClientSession(cmd, opts)
			if err != nil {
				return err
			}
			defer cs.close()

			nav := gate.NewNavigator(cs.guard, cs.store, portal.NewRouteTable())
			out := cmd.OutOrStdout()
			for _, path := range args {
				d, err := nav.Navigate(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("navigate %s: %w", path, err)
				}
				fmt.Fprintf(out, "%s\t%s\n", path, d)
			}
			return nil
		},
	}
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openClientSession(cmd, opts)
			if err != nil {
				return err
			}
			defer cs.close()

			sess := cs.store.Snapshot()
			if !sess.Authenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			if sess.RefreshToken != "" {
				if err := cs.client.Logout(cmd.Context(), sess.RefreshToken); err != nil {
					cs.logger.Warn("backend logout failed", "error", err)
				}
			}
			if err := cs.store.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openClientSession(cmd, opts)
			if err != nil {
				return err
			}
			defer cs.close()

			writeWhoami(cmd.OutOrStdout(), cs.store.Snapshot(), time.Now())
			return nil
		},
	}
}

func writeWhoami(out io.Writer, sess session.Session, now time.Time) {
	if !sess.Authenticated() || sess.CurrentUser == nil {
		fmt.Fprintln(out, "Not logged in")
		return
	}
	u := sess.CurrentUser
	fmt.Fprintf(out, "Email:   %s\n", u.Email)
	fmt.Fprintf(out, "Role:    %s\n", u.Role)
	fmt.Fprintf(out, "Status:  %s\n", u.Status())
	if session.IsExpired(sess.AccessToken, now) {
		fmt.Fprintln(out, "Access:  expired (refreshed on next navigate)")
	} else {
		fmt.Fprintf(out, "Access:  valid until %s\n", sess.AccessToken.ExpiresAt.Local().Format(time.RFC3339))
	}
}
