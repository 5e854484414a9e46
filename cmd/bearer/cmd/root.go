package cmd

import (
	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jmcleod/bearer/internal/config"
	"github.com/jmcleod/bearer/internal/logging"
)

// globalFlags are shared by every subcommand. Only flags that were set on
// the command line override the loaded configuration.
type globalFlags struct {
	envFile   string
	apiURL    string
	session   string
	dataDir   string
	store     string
	redisAddr string
	logLevel  string
	logFormat string
	verbose   bool
}

// app carries the resolved configuration into the subcommands.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "bearer",
		Short: "bearer keeps an authenticated API session",
		Long: `bearer signs in to an API, keeps the refresh token sealed on disk and
calls protected endpoints, renewing the access token on demand. Concurrent
requests that hit an expired token share a single refresh.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.envFile, "env-file", ".env", "Path to a .env file with BEARER_* settings")
	pf.StringVar(&a.flags.apiURL, "api-url", "", "Base URL of the API (BEARER_API_URL)")
	pf.StringVarP(&a.flags.session, "session", "s", "", "Name of the stored session (BEARER_SESSION)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "Directory for the session store (BEARER_DATA_DIR)")
	pf.StringVar(&a.flags.store, "store", "", "Session store backend: memory, bbolt or redis (BEARER_STORE)")
	pf.StringVar(&a.flags.redisAddr, "redis-addr", "", "Redis address for the redis store (BEARER_REDIS_ADDR)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level (BEARER_LOG_LEVEL)")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "Log format: console or json (BEARER_LOG_FORMAT)")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "Debug logging and request summaries")

	rootCmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newGetCmd(a),
		newPostCmd(a),
		newDevServerCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the CLI and exits non-zero on error. Guarded memory is
// wiped before exiting.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		memguard.SafeExit(1)
	}
}

func (a *app) configure(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.envFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	overrides := []struct {
		name  string
		value string
		dst   *string
	}{
		{"api-url", a.flags.apiURL, &cfg.APIBaseURL},
		{"session", a.flags.session, &cfg.SessionName},
		{"data-dir", a.flags.dataDir, &cfg.DataDir},
		{"store", a.flags.store, &cfg.StoreBackend},
		{"redis-addr", a.flags.redisAddr, &cfg.RedisAddr},
		{"log-level", a.flags.logLevel, &cfg.LogLevel},
		{"log-format", a.flags.logFormat, &cfg.LogFormat},
	}
	for _, o := range overrides {
		if flags.Changed(o.name) {
			*o.dst = o.value
		}
	}
	if a.flags.verbose && !flags.Changed("log-level") {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}
