package main

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kube-reporting/theft-lakehouse/pkg/api"
)

type serveOptions struct {
	listenAddr      string
	checkCatalog    bool
	shutdownTimeout time.Duration
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	serveOpts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serves the lake tables, run history and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(opts, serveOpts)
		},
	}
	cmd.Flags().StringVar(&serveOpts.listenAddr, "listen-addr", ":8080", "the address the HTTP API listens on")
	cmd.Flags().BoolVar(&serveOpts.checkCatalog, "check-catalog", false, "if true, readiness also requires Presto to answer a query")
	cmd.Flags().DurationVar(&serveOpts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "how long in-flight requests are given to finish on shutdown")
	return cmd
}

func serve(opts *rootOptions, serveOpts *serveOptions) error {
	ctx := setupSignals()
	s, err := opts.openSession(ctx, serveOpts.checkCatalog)
	if err != nil {
		return err
	}
	defer s.Close()

	var ready api.ReadinessChecker
	if s.catalog != nil && s.catalog.Health != nil {
		ready = s.catalog.Health
	}
	router := api.NewRouter(s.logger, rand.New(rand.NewSource(time.Now().UnixNano())), s.pipeline.Store(), s.ledger, ready)
	srv := &http.Server{
		Addr:    serveOpts.listenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("HTTP API server listening on %s", serveOpts.listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Infof("shutting down HTTP API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveOpts.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != http.ErrServerClosed {
		return err
	}
	return nil
}
