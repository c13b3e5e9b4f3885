package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kube-reporting/theft-lakehouse/pkg/ledger"
	"github.com/kube-reporting/theft-lakehouse/pkg/pipeline"
)

// session is a pipeline together with the connections opened for it.
type session struct {
	logger   log.FieldLogger
	pipeline *pipeline.Pipeline
	catalog  *pipeline.Catalog
	ledger   *ledger.Ledger
}

// openSession builds the pipeline from the configuration. The catalog is
// only connected to when withCatalog is set.
func (o *rootOptions) openSession(ctx context.Context, withCatalog bool) (*session, error) {
	logger, err := o.newLogger()
	if err != nil {
		return nil, err
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline configuration")
	}

	s := &session{logger: logger}
	if cfg.LedgerPath != "" {
		if s.ledger, err = ledger.Open(ctx, logger, cfg.LedgerPath, o.logDMLQueries); err != nil {
			return nil, err
		}
	}

	pipelineOpts := pipeline.Options{Ledger: s.ledger}
	if s.pipeline, err = pipeline.New(ctx, logger, cfg, pipelineOpts); err != nil {
		s.Close()
		return nil, err
	}
	if withCatalog {
		if s.catalog, err = pipeline.OpenCatalog(ctx, logger, cfg.Catalog, s.pipeline.Store(), o.logDDLQueries); err != nil {
			s.Close()
			return nil, err
		}
		pipelineOpts.Registrar = s.catalog.Registrar
		// rebuild with the registrar, the store is reused so credentials
		// are not resolved twice
		pipelineOpts.Store = s.pipeline.Store()
		if s.pipeline, err = pipeline.New(ctx, logger, cfg, pipelineOpts); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) Close() {
	if s.catalog != nil {
		if err := s.catalog.Close(); err != nil {
			s.logger.WithError(err).Warn("error closing catalog connections")
		}
	}
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			s.logger.WithError(err).Warn("error closing run ledger")
		}
	}
}

// runPipelineCommand opens a session, runs fn and prints its summary as JSON.
// The summary of a failed run is printed before the error is returned.
func runPipelineCommand(o *rootOptions, out io.Writer, withCatalog bool, fn func(context.Context, *pipeline.Pipeline) (*pipeline.RunSummary, error)) error {
	ctx := setupSignals()
	s, err := o.openSession(ctx, withCatalog)
	if err != nil {
		return err
	}
	defer s.Close()

	summary, runErr := fn(ctx, s.pipeline)
	if summary != nil {
		if err := writeJSON(out, summary); err != nil {
			return err
		}
	}
	return runErr
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newIngestCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [dataset...]",
		Short: "lands the source files of the named datasets, or every dataset, in the bronze tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineCommand(opts, cmd.OutOrStdout(), false, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.RunSummary, error) {
				return p.Ingest(ctx, args...)
			})
		},
	}
}

func newConformCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conform [dataset...]",
		Short: "cleans the landed files of the named datasets, or every dataset, into the silver tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineCommand(opts, cmd.OutOrStdout(), false, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.RunSummary, error) {
				return p.Conform(ctx, args...)
			})
		},
	}
}

func newAggregateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "joins the silver datasets and writes the gold theft tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipelineCommand(opts, cmd.OutOrStdout(), false, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.RunSummary, error) {
				return p.Aggregate(ctx)
			})
		},
	}
}

func newRegisterCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "registers the silver and gold tables as external tables in Hive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipelineCommand(opts, cmd.OutOrStdout(), true, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.RunSummary, error) {
				return p.Register(ctx)
			})
		},
	}
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var register bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "runs ingest, conform and aggregate for every dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipelineCommand(opts, cmd.OutOrStdout(), register, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.RunSummary, error) {
				return p.Run(ctx, register)
			})
		},
	}
	cmd.Flags().BoolVar(&register, "register", false, "if true, registers the tables in Hive once the gold tier is written")
	return cmd
}
