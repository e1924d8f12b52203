package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekmate/portal/app"
	"github.com/ekmate/portal/config"
	"github.com/ekmate/portal/internal/observability"
)

var (
	backendURL string
	tokenFile  string
	verbose    bool
)

type runtimeKey struct{}

// runtime is what PersistentPreRunE prepares for every command
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
}

var rootCmd = &cobra.Command{
	Use:   "ekmate",
	Short: "EKmate portal and session client",
	Long: `ekmate serves the EKmate rider portal and manages the local session.

The session token is kept in a single store (a file by default). The
login, logout, status and whoami commands share it with the portal
when both point at the same TOKEN_STORE.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New(cmd.Context())
		if err != nil {
			return err
		}

		// Flags win over the environment
		if backendURL != "" {
			cfg.Backend.BaseURL = backendURL
		}
		if tokenFile != "" {
			cfg.TokenStore.Kind = config.TokenStoreFile
			cfg.TokenStore.File = tokenFile
		}

		// Client commands keep stdout clean for their own output
		if cmd != serveCmd && !verbose {
			cfg.Observability.LogLevel = "warn"
			cfg.Observability.LogFormat = "console"
		} else if verbose {
			cfg.Observability.LogLevel = "debug"
		}

		logger, err := observability.NewLogger(cfg.Observability)
		if err != nil {
			return err
		}

		cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{cfg: cfg, logger: logger}))
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "EKmate backend base URL (overrides BACKEND_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "Token file path (forces the file token store)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok {
		return nil, errors.New("command runtime not initialized")
	}
	return rt, nil
}

// withDependencies builds the application stack, runs fn and tears it down
func withDependencies(ctx context.Context, fn func(*app.Dependencies) error) error {
	rt, err := runtimeFrom(ctx)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close(context.WithoutCancel(ctx)) }()

	return fn(deps)
}
