package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Seann-Moser/volunteerhub/config"
	"github.com/Seann-Moser/volunteerhub/devapi"
	"github.com/Seann-Moser/volunteerhub/gate"
	"github.com/Seann-Moser/volunteerhub/logger"
	"github.com/Seann-Moser/volunteerhub/portal"
	"github.com/Seann-Moser/volunteerhub/session"
	"github.com/Seann-Moser/volunteerhub/user"
)

// =============================================================================
// portal
// =============================================================================

func newPortalCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "portal",
		Short: "Run the browser-facing portal",
		Long: `Run the volunteer platform portal. Every page is admitted by the session
gate; expired access tokens are refreshed against the backend.

Environment:
  PORTAL_ADDR, PORTAL_COOKIE_SECRET, BACKEND_BASE_URL, BACKEND_REFRESH,
  STORAGE_DRIVER (memory, redis or mongo)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runPortal(cmd.Context(), cfg, logger.New("volunteerhub-portal", cfg.LogLevel))
		},
	}
}

func runPortal(ctx context.Context, cfg config.AppConfig, log *slog.Logger) error {
	factory, closeStorage, err := sessionStorage(ctx, cfg, "", log)
	if err != nil {
		return err
	}
	defer closeStorage()

	client := newBackendClient(cfg.Backend, prometheus.DefaultRegisterer, log)
	guard := gate.NewGuard(newRefresher(cfg.Backend, client, log), gate.DefaultPaths(),
		gate.WithLogger(log),
		gate.WithMetrics(gate.NewMetrics(prometheus.DefaultRegisterer)),
	)
	srv := portal.NewServer(portal.Options{
		Guard:    guard,
		Registry: session.NewRegistry(factory, log),
		Cookies: session.CookieCodec{
			Name:     cfg.Portal.CookieName,
			Secret:   []byte(cfg.Portal.CookieSecret),
			Domain:   cfg.Portal.CookieDomain,
			Secure:   cfg.Portal.SecureCookie,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   cfg.Storage.TTL,
		},
		Backend: client,
		Logger:  log,
	})

	go srv.RunSweeper(ctx, cfg.Portal.SweepInterval, cfg.Portal.MaxIdle)
	log.Info("portal configured",
		"storage", cfg.Storage.Driver,
		"backend", cfg.Backend.BaseURL,
		"refresh", cfg.Backend.Refresh,
	)
	return serveHTTP(ctx, cfg.Portal.Addr, srv.Routes(), log)
}

// =============================================================================
// devapi
// =============================================================================

func newDevAPICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devapi",
		Short: "Run the development backend",
		Long: `Run a development implementation of the platform authentication API:
login, register, refresh with rotation, logout, profile and onboarding.

With DEVAPI_SEED=true the demo accounts are created on start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runDevAPI(cmd.Context(), cfg, logger.New("volunteerhub-devapi", cfg.LogLevel))
		},
	}
}

func runDevAPI(ctx context.Context, cfg config.AppConfig, log *slog.Logger) error {
	accounts, refresh, closeStores, err := devapiStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	if cfg.DevAPI.Seed {
		n, err := user.Seed(ctx, accounts, user.SeedAccounts(), log)
		if err != nil {
			return fmt.Errorf("seed accounts: %w", err)
		}
		log.Info("demo accounts seeded", "created", n)
	}

	issuer := devapi.NewTokenIssuer(cfg.DevAPI.JWTSecret, cfg.DevAPI.AccessTTL)
	srv := devapi.NewServer(accounts, refresh, issuer, log)
	return serveHTTP(ctx, cfg.DevAPI.Addr, srv.Routes(), log)
}

// devapiStores opens the account and refresh token stores selected by
// DEVAPI_STORE.
func devapiStores(ctx context.Context, cfg config.AppConfig, log *slog.Logger) (user.Store, devapi.RefreshStore, func(), error) {
	if cfg.DevAPI.Store != config.DriverMongo {
		return user.NewMemoryStore(), devapi.NewMemoryRefreshStore(cfg.DevAPI.RefreshTTL), func() {}, nil
	}

	client, err := connectMongo(ctx, cfg.Mongo, log)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() { _ = client.Disconnect(context.Background()) }

	accounts := user.NewMongoDBStore(client, cfg.Mongo.Database, accountsCollection)
	if err := accounts.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	refresh := devapi.NewMongoRefreshStore(client.Database(cfg.Mongo.Database).Collection(refreshCollection), cfg.DevAPI.RefreshTTL)
	if err := refresh.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	return accounts, refresh, closeFn, nil
}

// =============================================================================
// seed
// =============================================================================

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the demo accounts in MongoDB",
		Long: `Create the demo accounts (admin, volunteers, organizations, locked and
expired users) in the development backend's MongoDB. Existing accounts are
left untouched. Requires DEVAPI_STORE=mongo.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.DevAPI.Store != config.DriverMongo {
				return fmt.Errorf("seed needs DEVAPI_STORE=mongo; the memory store is seeded when devapi starts")
			}
			log := logger.NewWithWriter("volunteerhub-seed", cfg.LogLevel, cmd.ErrOrStderr())
			accounts, _, closeStores, err := devapiStores(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStores()

			n, err := user.Seed(cmd.Context(), accounts, user.SeedAccounts(), log)
			if err != nil {
				return fmt.Errorf("seed accounts: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d of %d demo accounts\n", n, len(user.SeedAccounts()))
			return nil
		},
	}
}
