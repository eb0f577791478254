package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devilmonastery/apiclient/internal/client"
)

// formatDuration formats a duration in a human-friendly way (e.g., "2 days, 3 hours and 45 minutes")
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	units := []struct {
		n    int
		name string
	}{
		{int(d.Hours() / 24), "day"},
		{int(d.Hours()) % 24, "hour"},
		{int(d.Minutes()) % 60, "minute"},
	}

	var parts []string
	for _, u := range units {
		if u.n == 1 {
			parts = append(parts, "1 "+u.name)
		} else if u.n > 1 {
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.name))
		}
	}
	if len(parts) == 0 {
		seconds := int(d.Seconds()) % 60
		if seconds == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", seconds)
	}

	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
		Long:  `Manage the stored session for the current context`,
	}

	cmd.AddCommand(newAuthLoginCommand())
	cmd.AddCommand(newAuthLogoutCommand())
	cmd.AddCommand(newAuthStatusCommand())
	cmd.AddCommand(newAuthRefreshCommand())
	cmd.AddCommand(newAuthTokenCommand())

	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var accessToken, refreshToken string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store credentials for the current context",
		Long: `Store an access token and refresh token issued by your identity provider.

Tokens not given as flags are prompted for without echo.

Examples:
  # Paste tokens at the prompt
  apiclient auth login

  # Non-interactive
  apiclient auth login --access-token "$ACCESS" --refresh-token "$REFRESH"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)
			out := cmd.OutOrStdout()

			if accessToken == "" {
				var err error
				accessToken, refreshToken, err = promptTokens(out, refreshToken)
				if err != nil {
					return err
				}
			}
			if accessToken == "" {
				return fmt.Errorf("an access token is required")
			}

			cliCtx.Client.SetTokens(accessToken, refreshToken)
			cliCtx.Logger.Info("credentials stored", "context", cliCtx.ContextName)

			fmt.Fprintf(out, "✓ Logged in to %s (%s)\n", cliCtx.ContextName, cliCtx.Client.BaseURL())
			if refreshToken == "" {
				fmt.Fprintln(out, "⚠  No refresh token stored; the session ends when the access token expires")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token")

	return cmd
}

// promptTokens reads tokens from the terminal without echo. A refresh token
// already given as a flag is not prompted for.
func promptTokens(out io.Writer, refreshToken string) (string, string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", "", fmt.Errorf("stdin is not a terminal; pass --access-token")
	}

	fmt.Fprint(out, "Access token: ")
	access, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", "", fmt.Errorf("failed to read access token: %w", err)
	}

	if refreshToken == "" {
		fmt.Fprint(out, "Refresh token (optional): ")
		refresh, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", "", fmt.Errorf("failed to read refresh token: %w", err)
		}
		refreshToken = string(refresh)
	}

	return strings.TrimSpace(string(access)), strings.TrimSpace(refreshToken), nil
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials for the current context",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)
			if !cliCtx.Client.IsAuthenticated() && cliCtx.Client.Tokens().GetRefreshToken() == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}

			cliCtx.Client.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Successfully logged out")
			return nil
		},
	}
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)
			out := cmd.OutOrStdout()
			tokens := cliCtx.Client.Tokens()

			fmt.Fprintf(out, "Context: %s\n", cliCtx.ContextName)
			fmt.Fprintf(out, "Server: %s\n", cliCtx.Client.BaseURL())

			access := tokens.GetToken()
			if access == "" {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}

			if tokens.GetRefreshToken() != "" {
				fmt.Fprintln(out, "Refresh token: stored")
			} else {
				fmt.Fprintln(out, "Refresh token: none")
			}

			claims, err := client.ParseClaims(access)
			if errors.Is(err, client.ErrOpaqueToken) {
				fmt.Fprintln(out, "Access token: opaque (expiry unknown)")
				return nil
			}
			if err != nil {
				return err
			}

			if claims.Subject != "" {
				fmt.Fprintf(out, "Logged in as: %s\n", claims.Subject)
			}
			if claims.ExpiresAt.IsZero() {
				fmt.Fprintln(out, "Token expires: never")
				return nil
			}

			fmt.Fprintf(out, "Token expires: %s\n", claims.ExpiresAt.Local().Format("2006-01-02 15:04:05 MST"))
			if claims.Expired() {
				fmt.Fprintf(out, "⚠  Token expired %s ago - automatic refresh will be attempted on next request\n",
					formatDuration(time.Since(claims.ExpiresAt)))
			} else {
				fmt.Fprintf(out, "✓  Valid for %s\n", formatDuration(time.Until(claims.ExpiresAt)))
			}
			return nil
		},
	}
}

func newAuthRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)
			if _, err := cliCtx.Client.Refresher().Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Access token refreshed")
			return nil
		},
	}
}

func newAuthTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Display the current access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := getCliContext(cmd).Client.Tokens().GetToken()
			if token == "" {
				return fmt.Errorf("not logged in")
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
