package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/jmcleod/bearer/api"
	"github.com/jmcleod/bearer/client"
)

func newStatusCmd(a *app) *cobra.Command {
	var verify bool

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the stored session",
		Long: `Show the state of the stored session without contacting the server.
With --verify, call GET /api/me, refreshing the access token if needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.newClientRuntime(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:  %s\n", a.cfg.SessionName)
			fmt.Fprintf(out, "Store:    %s\n", a.cfg.StoreBackend)
			fmt.Fprintf(out, "API:      %s\n", a.cfg.APIBaseURL)
			fmt.Fprintf(out, "State:    %s\n", rt.store.State())
			if !rt.guard.IsLikelyAuthenticated() || !verify {
				return nil
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/api/me", nil)
			if err != nil {
				return err
			}
			resp, err := rt.auth.Client().Do(req)
			if errors.Is(err, client.ErrSessionEnded) {
				fmt.Fprintf(out, "Verify:   session rejected by the server\n")
				return nil
			}
			if err != nil {
				return fmt.Errorf("verifying session: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("verifying session: %s", resp.Status)
			}

			var me api.MeResponse
			if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&me); err != nil {
				return fmt.Errorf("decoding /api/me response: %w", err)
			}
			fmt.Fprintf(out, "User:     %s\n", me.Username)
			if exp, ok := accessTokenExpiry(rt.store.AccessToken()); ok {
				fmt.Fprintf(out, "Expires:  %s (in %s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
			}
			if s := rt.coord.Stats(); s.Started > 0 {
				fmt.Fprintf(out, "Refresh:  access token renewed\n")
			}
			return nil
		},
	}

	statusCmd.Flags().BoolVar(&verify, "verify", false, "Verify the session against the server")
	return statusCmd
}

// accessTokenExpiry reads the exp claim without verifying the signature;
// the value is for display only.
func accessTokenExpiry(accessToken string) (time.Time, bool) {
	if accessToken == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
