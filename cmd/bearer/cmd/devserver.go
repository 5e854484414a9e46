package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/bearer/api"
	"github.com/jmcleod/bearer/internal/config"
	"github.com/jmcleod/bearer/internal/util"
)

func newDevServerCmd(a *app) *cobra.Command {
	var (
		listen       string
		users        []string
		accessTTL    time.Duration
		refreshDelay time.Duration
		persist      bool
	)

	devServerCmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local API that issues short-lived tokens",
		Long: `Run a local API implementing login, refresh and logout plus a few
protected endpoints. With --persist, refresh sessions are kept in the
configured store and survive a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("listen") {
				listen = a.cfg.ListenAddr
			}
			if !cmd.Flags().Changed("access-ttl") {
				accessTTL = a.cfg.AccessTTL
			}

			opts := []api.Option{
				api.WithLogger(a.logger),
				api.WithAccessTTL(accessTTL),
				api.WithRefreshDelay(refreshDelay),
				api.WithAlertFunc(func(ev api.AlertEvent) {
					a.logger.Warn().
						Str("alert", string(ev.Type)).
						Int("count", ev.Count).
						Int("threshold", ev.Threshold).
						Msg(ev.Message)
				}),
			}

			if persist {
				closeStore, storeOpts, err := a.persistentSessions(cmd.Context())
				if err != nil {
					return err
				}
				defer closeStore()
				opts = append(opts, storeOpts...)
			}

			srv, err := api.New(opts...)
			if err != nil {
				return err
			}
			for _, u := range users {
				name, pass, ok := strings.Cut(u, ":")
				if !ok {
					return fmt.Errorf("--user %q: expected name:password", u)
				}
				if err := srv.AddUser(name, pass); err != nil {
					return fmt.Errorf("adding user %q: %w", name, err)
				}
			}

			r := chi.NewRouter()
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)

			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("OK"))
			})

			r.Mount("/api", srv.Router())

			server := &http.Server{
				Addr:              listen,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			// Graceful shutdown on SIGINT/SIGTERM.
			done := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					done <- fmt.Errorf("server failed: %w", err)
					return
				}
				done <- nil
			}()

			printBanner(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "Dev API listening on %s (access tokens live %s, %d user(s))\n", listen, accessTTL, len(users))

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case sig := <-quit:
				fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					return fmt.Errorf("server shutdown failed: %w", err)
				}
				return nil
			case err := <-done:
				return err
			}
		},
	}

	devServerCmd.Flags().StringVar(&listen, "listen", ":8080", "Address to listen on (BEARER_LISTEN_ADDR)")
	devServerCmd.Flags().StringArrayVar(&users, "user", []string{"alice:wonderland"}, "User to seed as name:password (repeatable)")
	devServerCmd.Flags().DurationVar(&accessTTL, "access-ttl", 5*time.Minute, "Access token lifetime (BEARER_ACCESS_TTL)")
	devServerCmd.Flags().DurationVar(&refreshDelay, "refresh-delay", 0, "Artificial delay before answering a refresh")
	devServerCmd.Flags().BoolVar(&persist, "persist", false, "Keep refresh sessions in the configured store")
	return devServerCmd
}

// persistentSessions opens the configured backend for refresh sessions and
// derives the signing and wrapping keys from the store secret, so both
// tokens and sessions survive a restart.
func (a *app) persistentSessions(ctx context.Context) (func(), []api.Option, error) {
	if a.cfg.StoreBackend == config.BackendMemory {
		return nil, nil, errors.New("--persist needs the bbolt or redis store")
	}
	secret, err := storeSecret(a.cfg)
	if err != nil {
		return nil, nil, err
	}
	signingKey, err := util.DeriveKey(secret, "", "bearer devserver signing key")
	if err != nil {
		return nil, nil, err
	}
	wrappingKey, err := util.DeriveKey(secret, "", "bearer devserver session key")
	if err != nil {
		return nil, nil, err
	}
	defer util.WipeBytes(wrappingKey)

	repo, err := openRepository(ctx, a.cfg, filepath.Join(a.cfg.DataDir, "devserver.db"))
	if err != nil {
		return nil, nil, err
	}
	store, err := api.NewPersistentSessionStore(repo, wrappingKey, a.logger)
	if err != nil {
		repo.Close()
		return nil, nil, err
	}

	closeStore := func() {
		store.Close()
		repo.Close()
	}
	return closeStore, []api.Option{api.WithSigningKey(signingKey), api.WithSessionStore(store)}, nil
}
