package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/lockharness/internal/backend"
	"github.com/roach88/lockharness/internal/lockd"
	"github.com/roach88/lockharness/internal/locksvc"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Backend backendFlags
	Addr    string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lockd daemon",
		Long: `Serve a locking backend over HTTP so scenarios can run against it with
--backend remote.

LOCKD_JWT_SECRET must be set. LOCKD_ADDR, LOCKD_JWT_ISSUER and
LOCKD_SESSION_TTL are optional. Connections opened with mode daemon-required
are accepted.

Examples:
  LOCKD_JWT_SECRET=dev lockharness serve --addr :7070
  LOCKD_JWT_SECRET=dev lockharness serve --backend sqlite --sqlite-path ./locks.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	opts.Backend.bind(cmd)
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from LOCKD_ADDR or :7070)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := opts.Backend.config()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Addr != "" {
		cfg.Daemon.Addr = opts.Addr
	}
	if err := cfg.ValidateDaemon(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	tokens, err := lockd.NewTokens(cfg.Daemon.JWTSecret, cfg.Daemon.JWTIssuer, cfg.Daemon.SessionTTL)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid token settings", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := backend.Open(ctx, cfg.Backend,
		backend.WithLogger(logger),
		backend.WithServiceOptions(locksvc.WithDaemon(), locksvc.WithLogOutput(cmd.ErrOrStderr())),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open backend", err)
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error("error closing backend", "backend", be.Name, "error", err)
		}
	}()

	logger.Info("lockd starting", "backend", be.Name, "addr", cfg.Daemon.Addr)
	srv := lockd.New(be.Service, tokens, logger)
	if err := srv.ListenAndServe(ctx, cfg.Daemon.Addr); err != nil {
		return WrapExitError(ExitFailure, "lockd stopped with an error", err)
	}
	logger.Info("lockd stopped")
	return nil
}
