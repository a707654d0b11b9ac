package main

import (
	"github.com/spf13/cobra"

	"github.com/Seann-Moser/volunteerhub/config"
)

type rootOptions struct {
	envFile  string
	stateDir string
}

func (o *rootOptions) loadConfig() (config.AppConfig, error) {
	return config.Load(o.envFile)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "volunteerhub",
		Short: "Volunteer platform portal and session tools",
		Long: `volunteerhub runs the volunteer platform portal, a development backend,
and command line session tools that share the portal's admission rules.

Configuration is read from the environment and an optional .env file.

Examples:
  volunteerhub devapi
  volunteerhub portal
  volunteerhub login --email volunteer@volunteerhub.local --password 'Volunteer#2024'
  volunteerhub navigate /dashboard /admin/reports
  volunteerhub whoami
  volunteerhub logout`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional .env file to load")
	cmd.PersistentFlags().StringVar(&opts.stateDir, "state-dir", ".volunteerhub",
		"directory holding the CLI session when STORAGE_DRIVER=memory")

	cmd.AddCommand(
		newPortalCmd(opts),
		newDevAPICmd(opts),
		newSeedCmd(opts),
		newLoginCmd(opts),
		newNavigateCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
	)
	return cmd
}
