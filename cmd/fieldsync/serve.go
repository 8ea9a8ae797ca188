package main

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/fieldsync/backend/internal/api"
	"github.com/kimhsiao/fieldsync/backend/internal/core"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync core with its local REST and websocket API",
		Long: `Start the sync core and serve the local API the UI shell talks to.

REST routes live under /api; sync events are pushed on ws://<addr>/ws.
The core drains the queue whenever connectivity returns, on a timer, and
after every create.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				a.cfg.ListenAddr = listen
			}
			return serve(cmd.Context(), a, nil)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

// serve runs until ctx is cancelled. ready, when set, receives the bound
// address once the listener is up.
func serve(ctx context.Context, a *app, ready chan<- string) error {
	c, err := core.New(a.cfg, core.WithLogger(a.logger))
	if err != nil {
		return err
	}

	hub := NewWSHub(a.logger)
	unsubscribe := c.Events().Subscribe(hub.Publish)
	defer unsubscribe()

	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		c.Shutdown(context.Background())
		return err
	}
	srv := &http.Server{
		Handler: api.NewRouter(c, api.Options{
			Logger: a.logger,
			Mount:  func(r chi.Router) { r.Handle("/ws", hub) },
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := c.Start(ctx); err != nil {
		ln.Close()
		c.Shutdown(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(c.Wait)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		serr := srv.Shutdown(shutdownCtx)
		if err := c.Shutdown(shutdownCtx); err != nil && serr == nil {
			serr = err
		}
		return serr
	})

	a.logger.Info("Serving local API", map[string]interface{}{
		"addr":            ln.Addr().String(),
		"organization_id": a.cfg.OrganizationID,
	})
	if ready != nil {
		ready <- ln.Addr().String()
	}
	return g.Wait()
}
