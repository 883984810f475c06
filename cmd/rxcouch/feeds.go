package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tangledfruit/rx-couch/contrib/wsrelay"
	"github.com/tangledfruit/rx-couch/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

func (c *cli) newChangesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes DB",
		Short: "Print changes, one per line; --follow keeps long-polling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.optionFlag(cmd)
			if err != nil {
				return err
			}
			follow, err := cmd.Flags().GetBool("follow")
			if err != nil {
				return err
			}
			if follow {
				if opts == nil {
					opts = make(map[string]any)
				}
				opts["feed"] = "longpoll"
				if _, ok := opts["since"]; !ok {
					opts["since"] = "now"
				}
			}
			db, err := c.database(cmd, args[0])
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			feed, err := db.Changes(ctx, opts)
			if err != nil {
				return err
			}
			return drain(ctx, cmd, c, feed)
		},
	}
	addOptionFlag(cmd)
	cmd.Flags().BoolP("follow", "f", false, "long-poll for new changes until interrupted (since defaults to now)")
	return cmd
}

func (c *cli) newObserveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "observe DB ID",
		Short: "Print a document and every later revision of it until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := c.database(cmd, args[0])
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			obs, err := db.Observe(ctx, args[1])
			if err != nil {
				return err
			}
			return drain(ctx, cmd, c, obs)
		},
	}
}

func (c *cli) newRelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve document observations over websockets at /observe, with metrics at /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listen, err := cmd.Flags().GetString("listen")
			if err != nil {
				return err
			}
			c.metrics = metrics.New()
			srv, err := c.server(cmd)
			if err != nil {
				return err
			}
			log, err := c.logger(cmd)
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/observe", wsrelay.New(srv, wsrelay.WithLogger(log)))
			mux.Handle("/metrics", c.metrics.Handler())

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			log.Info("relay listening", "addr", ln.Addr().String(), "couchdb", srv.URL())
			return serve(commandContext(cmd), &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}, ln)
		},
	}
	cmd.Flags().StringP("listen", "l", "127.0.0.1:5985", "address to listen on")
	return cmd
}

// serve runs hs on ln until ctx is done, then shuts it down.
func serve(ctx context.Context, hs *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
