package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/bearer/client"
)

// requestOptions drive get and post.
type requestOptions struct {
	method   string
	path     string
	body     []byte
	parallel int
	verbose  bool
}

// result is the outcome of one of the parallel calls.
type result struct {
	status int
	body   []byte
}

func newGetCmd(a *app) *cobra.Command {
	opts := requestOptions{method: http.MethodGet}

	getCmd := &cobra.Command{
		Use:   "get PATH",
		Short: "Call a protected endpoint with GET",
		Example: `  bearer get /api/me
  bearer get /api/items --parallel 20 -v`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.path = args[0]
			opts.verbose = a.flags.verbose
			return a.runRequests(cmd, opts)
		},
	}

	getCmd.Flags().IntVarP(&opts.parallel, "parallel", "n", 1, "Number of concurrent identical requests")
	return getCmd
}

func newPostCmd(a *app) *cobra.Command {
	opts := requestOptions{method: http.MethodPost}
	var data string

	postCmd := &cobra.Command{
		Use:     "post PATH",
		Short:   "Call a protected endpoint with POST and a JSON body",
		Example: `  bearer post /api/items --data '{"name":"notebook"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.path = args[0]
			opts.body = []byte(data)
			opts.verbose = a.flags.verbose
			return a.runRequests(cmd, opts)
		},
	}

	postCmd.Flags().StringVarP(&data, "data", "d", "{}", "JSON request body")
	postCmd.Flags().IntVarP(&opts.parallel, "parallel", "n", 1, "Number of concurrent identical requests")
	return postCmd
}

func (a *app) runRequests(cmd *cobra.Command, opts requestOptions) error {
	if opts.parallel < 1 {
		return errors.New("--parallel must be at least 1")
	}
	if !strings.HasPrefix(opts.path, "/") {
		opts.path = "/" + opts.path
	}

	ctx := cmd.Context()
	rt, err := a.newClientRuntime(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	if !rt.guard.IsLikelyAuthenticated() {
		return fmt.Errorf("session %q is not signed in; run `bearer login`", a.cfg.SessionName)
	}

	httpClient := rt.auth.Client()
	results := make([]result, opts.parallel)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := range opts.parallel {
		g.Go(func() error {
			res, err := doRequest(gctx, httpClient, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err = g.Wait()

	if opts.verbose {
		s := rt.coord.Stats()
		fmt.Fprintf(cmd.ErrOrStderr(), "%d request(s) in %s, %d refresh(es), %d failed\n",
			opts.parallel, time.Since(start).Round(time.Millisecond), s.Started, s.Failed)
		if rt.ended.Load() {
			fmt.Fprintf(cmd.ErrOrStderr(), "session %q was signed out\n", a.cfg.SessionName)
		}
	}
	if errors.Is(err, client.ErrSessionEnded) {
		return fmt.Errorf("session %q ended: %w", a.cfg.SessionName, client.ErrSessionEnded)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	first := results[0]
	for i, res := range results[1:] {
		if res.status != first.status {
			fmt.Fprintf(cmd.ErrOrStderr(), "request %d answered %d, request 1 answered %d\n", i+2, res.status, first.status)
		}
	}
	out.Write(first.body)
	if len(first.body) > 0 && first.body[len(first.body)-1] != '\n' {
		fmt.Fprintln(out)
	}
	if first.status < 200 || first.status > 299 {
		return fmt.Errorf("%s %s: %d %s", opts.method, opts.path, first.status, http.StatusText(first.status))
	}
	return nil
}

func doRequest(ctx context.Context, httpClient *http.Client, opts requestOptions) (result, error) {
	var body io.Reader
	if opts.body != nil {
		body = bytes.NewReader(opts.body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.method, opts.path, body)
	if err != nil {
		return result{}, err
	}
	if opts.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return result{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return result{}, fmt.Errorf("reading response: %w", err)
	}
	return result{status: resp.StatusCode, body: data}, nil
}
