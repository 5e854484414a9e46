package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/bearer/client"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		username      string
		password      string
		passwordStdin bool
	)

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading password from stdin: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if username == "" || password == "" {
				return errors.New("--username and one of --password or --password-stdin are required")
			}

			ctx := cmd.Context()
			rt, err := a.newClientRuntime(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			tok, err := rt.public.Login(ctx, username, password)
			if errors.Is(err, client.ErrLoginRejected) {
				return errors.New("login failed: invalid username or password")
			}
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := rt.store.Set(ctx, tok.AccessToken, tok.RefreshToken); err != nil {
				return fmt.Errorf("signed in but the session could not be stored: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (session %q)\n", username, a.cfg.SessionName)
			return nil
		},
	}

	loginCmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	loginCmd.Flags().StringVarP(&password, "password", "p", "", "Password (prefer --password-stdin)")
	loginCmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	loginCmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
	return loginCmd
}

func newLogoutCmd(a *app) *cobra.Command {
	var localOnly bool

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.newClientRuntime(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			if !rt.guard.IsLikelyAuthenticated() {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %q is not signed in\n", a.cfg.SessionName)
				return nil
			}

			// The server notification is best-effort; local credentials are
			// dropped whatever it returns.
			if !localOnly {
				if err := rt.public.Logout(ctx, rt.store.RefreshToken()); err != nil {
					a.logger.Warn().Err(err).Msg("server logout failed")
				}
			}
			if err := rt.auth.Logout(ctx); err != nil {
				return fmt.Errorf("clearing session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed out of session %q\n", a.cfg.SessionName)
			return nil
		},
	}

	logoutCmd.Flags().BoolVar(&localOnly, "local", false, "Skip notifying the server")
	return logoutCmd
}
