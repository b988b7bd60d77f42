package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	tandemerrors "github.com/tessro/tandem/internal/errors"
)

const loginTimeout = 5 * time.Minute

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Spotify authentication",
	Long:  `Commands for managing Spotify OAuth authentication.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with Spotify",
	Long:  `Opens a browser to authenticate with Spotify using OAuth PKCE flow.`,
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored Spotify credentials",
	Long:  `Removes the stored Spotify OAuth tokens from the local machine.`,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long:  `Shows the current Spotify authentication status.`,
	RunE:  runAuthStatus,
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

func requireClientID() error {
	if cfg.Spotify.ClientID == "" {
		return tandemerrors.WithSuggestion(
			fmt.Errorf("%w: spotify.client_id is not set", tandemerrors.ErrNotConfigured),
			"Set spotify.client_id in ~/.tandemrc or TANDEM_SPOTIFY_CLIENT_ID")
	}
	return nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	if err := requireClientID(); err != nil {
		return err
	}
	sp, err := newSpotify()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
	defer cancel()

	fmt.Println("Opening browser for Spotify authentication...")
	fmt.Println("Waiting for authentication...")
	if _, err := sp.login(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	// Confirm the token works.
	user, err := sp.client.GetCurrentUser(ctx)
	if err != nil {
		fmt.Println("Authentication successful! Token stored.")
		return nil
	}

	if JSONOutput() {
		printJSON(map[string]any{
			"status":       "authenticated",
			"user_id":      user.ID,
			"display_name": user.DisplayName,
			"product":      user.Product,
		})
		return nil
	}
	fmt.Printf("Successfully authenticated as %s\n", user.DisplayName)
	if user.Product != "premium" {
		fmt.Println("Note: playback control requires Spotify Premium.")
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	sp, err := newSpotify()
	if err != nil {
		return err
	}

	tok, err := sp.source.Current()
	if err != nil {
		return fmt.Errorf("failed to load token: %w", err)
	}
	if tok == nil {
		if JSONOutput() {
			printJSON(map[string]string{"status": "not_authenticated"})
		} else {
			fmt.Println("Not authenticated with Spotify.")
		}
		return nil
	}

	if err := sp.source.Logout(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	if JSONOutput() {
		printJSON(map[string]string{"status": "logged_out"})
	} else {
		fmt.Println("Logged out of Spotify.")
	}
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	sp, err := newSpotify()
	if err != nil {
		return err
	}

	tok, err := sp.source.Current()
	if err != nil {
		return fmt.Errorf("failed to load token: %w", err)
	}
	if tok == nil {
		if JSONOutput() {
			printJSON(map[string]any{"authenticated": false})
		} else {
			fmt.Println("Not authenticated with Spotify.")
			fmt.Println("Run 'tandem auth login' to authenticate.")
		}
		return nil
	}

	expired := tok.ExpiredAt(time.Now())
	if cfg.Spotify.ClientID == "" {
		if JSONOutput() {
			printJSON(map[string]any{
				"authenticated": true,
				"expired":       expired,
				"expires_at":    tok.ExpiresAt,
			})
		} else if expired {
			fmt.Println("Authenticated but token expired.")
		} else {
			fmt.Println("Authenticated with Spotify.")
		}
		return nil
	}

	user, err := sp.client.GetCurrentUser(cmd.Context())
	if err != nil {
		if JSONOutput() {
			printJSON(map[string]any{
				"authenticated": true,
				"expired":       true,
				"error":         err.Error(),
			})
		} else {
			fmt.Printf("Token may be expired or invalid: %v\n", err)
			fmt.Println("Run 'tandem auth login' to re-authenticate.")
		}
		return nil
	}

	// A refresh during the call may have replaced the token.
	if cur, err := sp.source.Current(); err == nil && cur != nil {
		tok = cur
	}

	if JSONOutput() {
		printJSON(map[string]any{
			"authenticated": true,
			"expired":       false,
			"user_id":       user.ID,
			"display_name":  user.DisplayName,
			"product":       user.Product,
			"expires_at":    tok.ExpiresAt,
		})
		return nil
	}
	fmt.Printf("Authenticated as: %s\n", user.DisplayName)
	fmt.Printf("Account type: %s\n", user.Product)
	fmt.Printf("Token expires: %s\n", tok.ExpiresAt.Format(time.RFC3339))
	return nil
}
