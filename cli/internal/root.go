package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/apiclient/internal/client"
	"github.com/devilmonastery/apiclient/internal/config"
	"github.com/devilmonastery/apiclient/internal/pkg/logger"
	"github.com/devilmonastery/apiclient/internal/pkg/metrics"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const cliContextKey contextKey = "cliContext"

// CliContext holds shared CLI context
type CliContext struct {
	Config      *Config
	Settings    *config.Config
	ContextName string
	Client      *client.Client
	Logger      *slog.Logger

	closeStore func() error
}

// Global flags
var (
	logLevel      string
	logFile       string
	logToStderr   bool
	alsoLogStderr bool
	logFormat     string

	settingsPath    string
	contextOverride string
	baseURLOverride string
)

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	var ctx CliContext

	rootCmd := &cobra.Command{
		Use:           "apiclient",
		Short:         "Authenticated command line client for JSON APIs",
		Long:          `A command line client that keeps an API session alive: bearer tokens, silent rotation and refresh on expiry.`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors (main.go handles it)
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Config commands only edit ~/.apiclient and never need client settings
			var settings *config.Config
			if !isConfigCommand(cmd) {
				var err error
				if settings, err = config.Load(settingsPath); err != nil {
					return err
				}
			}

			if err := setupLogging(cmd, settings); err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}

			ctx.Logger = logger.Component(nil, "cli")
			ctx.Logger.Debug("CLI started", "command", cmd.Name())
			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, &ctx))

			cliConfig, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx.Config = cliConfig

			if settings == nil {
				return nil
			}
			ctx.Settings = settings

			ctx.ContextName = cliConfig.CurrentContext
			if contextOverride != "" {
				ctx.ContextName = contextOverride
			}

			c, closeStore, err := newClient(&ctx)
			if err != nil {
				return err
			}
			ctx.Client = c
			ctx.closeStore = closeStore

			c.Subscribe(func(e client.LogoutEvent) {
				if e.Reason == client.LogoutExplicit {
					return
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Session ended (%s). Run 'apiclient auth login' to sign in again.\n", e.Reason)
			})
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if ctx.closeStore != nil {
				return ctx.closeStore()
			}
			return nil
		},
	}

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newConfigCommand())
	for _, c := range newRequestCommands() {
		rootCmd.AddCommand(c)
	}

	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "",
		"Client settings file (default: search ./apiclient.yaml, ~/.config/apiclient/config.yaml, /etc/apiclient/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&contextOverride, "context", "",
		"Use this context instead of the current one")
	rootCmd.PersistentFlags().StringVar(&baseURLOverride, "base-url", "",
		"Override the API base URL")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Log file path (if specified, logs to file instead of stderr)")
	rootCmd.PersistentFlags().BoolVar(&logToStderr, "logtostderr", false,
		"Log to stderr (default behavior unless --log-file specified)")
	rootCmd.PersistentFlags().BoolVar(&alsoLogStderr, "alsologtostderr", false,
		"Log to both file and stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format (text, json)")

	return rootCmd
}

// newClient resolves the base URL and token store for the selected context
func newClient(ctx *CliContext) (*client.Client, func() error, error) {
	baseURL := ctx.Settings.API.BaseURL
	if cliCtx, ok := ctx.Config.Contexts[ctx.ContextName]; ok && cliCtx.Server.BaseURL != "" {
		baseURL = cliCtx.Server.BaseURL
	} else if !ok && contextOverride != "" {
		return nil, nil, fmt.Errorf("context %q does not exist", ctx.ContextName)
	}
	if baseURLOverride != "" {
		baseURL = baseURLOverride
	}
	if baseURL == "" {
		return nil, nil, fmt.Errorf("no API base URL configured; run 'apiclient config add-context' or pass --base-url")
	}

	store, closeStore, err := openTokenStore(ctx.Settings.TokenStore, ctx.ContextName, ctx.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open token store: %w", err)
	}

	transport := http.DefaultTransport
	if ctx.Settings.Metrics.Enabled {
		transport = metrics.NewTransport(transport)
	}

	c := client.NewClient(baseURL,
		client.WithHTTPClient(&http.Client{Timeout: ctx.Settings.API.Timeout, Transport: transport}),
		client.WithTokenStore(store),
		client.WithRefreshPath(ctx.Settings.API.RefreshPath),
		client.WithRotationHeader(ctx.Settings.API.RotationHeader),
		client.WithRefreshTimeout(ctx.Settings.API.RefreshTimeout),
		client.WithLogger(slog.Default()),
	)
	return c, closeStore, nil
}

func isConfigCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" {
			return true
		}
	}
	return false
}

// setupLogging configures the global logger. Flags given on the command line
// win over the log section of the settings file.
func setupLogging(cmd *cobra.Command, settings *config.Config) error {
	level, format, file := logLevel, logFormat, logFile
	if settings != nil {
		flags := cmd.Flags()
		if !flags.Changed("log-level") && settings.Log.Level != "" {
			level = settings.Log.Level
		}
		if !flags.Changed("log-format") && settings.Log.Format != "" {
			format = settings.Log.Format
		}
		if !flags.Changed("log-file") && settings.Log.File != "" {
			file = settings.Log.File
		}
	}

	cfg := logger.Config{
		Level:         logger.ParseLevel(level),
		LogFile:       file,
		LogToStderr:   logToStderr || file == "",
		AlsoLogStderr: alsoLogStderr,
		Format:        format,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	slog.SetDefault(globalLogger)
	return nil
}

// getCliContext extracts the CLI context from the command context
func getCliContext(cmd *cobra.Command) *CliContext {
	return cmd.Context().Value(cliContextKey).(*CliContext)
}
