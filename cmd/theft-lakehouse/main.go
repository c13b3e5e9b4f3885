package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kube-reporting/theft-lakehouse/cmd/helpers"
	"github.com/kube-reporting/theft-lakehouse/pkg/pipeline"
)

const envPrefix = "THEFT_LAKEHOUSE"

var (
	defaultSourceDir = "data"
	defaultLakeDir   = "lake"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath     string
	sourceDir      string
	lakeDir        string
	ledgerPath     string
	hiveHost       string
	prestoHost     string
	pushgatewayURL string

	logLevelStr         string
	logFullTimestamp    bool
	logDisableTimestamp bool
	logDDLQueries       bool
	logDMLQueries       bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "theft-lakehouse",
		Short:         "builds the stolen vehicle lakehouse from its landing files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return helpers.SetFlagsFromEnv(cmd.Flags(), envPrefix)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a pipeline configuration file (toml, yaml or json), if empty the built-in stolen vehicle pipeline is used")
	flags.StringVar(&opts.sourceDir, "source-dir", defaultSourceDir, "directory holding the source files of the built-in pipeline")
	flags.StringVar(&opts.lakeDir, "lake-dir", defaultLakeDir, "root directory of the file storage backend of the built-in pipeline")
	flags.StringVar(&opts.ledgerPath, "ledger-path", "", "if non-empty, overrides the SQLite database runs are recorded in")
	flags.StringVar(&opts.hiveHost, "hive-host", "", "if non-empty, overrides the hostname:port for connecting to Hive")
	flags.StringVar(&opts.prestoHost, "presto-host", "", "if non-empty, overrides the hostname:port for connecting to Presto")
	flags.StringVar(&opts.pushgatewayURL, "pushgateway-url", "", "if non-empty, pipeline metrics are pushed to this Prometheus Pushgateway when a command finishes")

	flags.StringVar(&opts.logLevelStr, "log-level", log.InfoLevel.String(), "log level")
	flags.BoolVar(&opts.logFullTimestamp, "log-timestamp", true, "log full timestamp if true, otherwise log time since startup")
	flags.BoolVar(&opts.logDisableTimestamp, "disable-timestamp", false, "disable timestamp logging")
	flags.BoolVar(&opts.logDDLQueries, "log-ddl-queries", false, "logDDLQueries controls if we log data definition language queries made via Hive (CREATE TABLE, DROP TABLE, etc)")
	flags.BoolVar(&opts.logDMLQueries, "log-dml-queries", false, "logDMLQueries controls if we log statements made against the run ledger (INSERT, UPDATE, etc)")

	rootCmd.AddCommand(
		newIngestCommand(opts),
		newConformCommand(opts),
		newAggregateCommand(opts),
		newRunCommand(opts),
		newRegisterCommand(opts),
		newServeCommand(opts),
		newConfigCommand(opts),
		newGenerateConfigCommand(opts),
		newVersionCommand(),
	)
	return rootCmd
}

func main() {
	// globally set time to UTC
	time.Local = time.UTC

	if err := newRootCommand().Execute(); err != nil {
		log.WithError(err).Fatalf("error executing command: %v", err)
	}
}

func (o *rootOptions) newLogger() (log.FieldLogger, error) {
	return helpers.SetupLogger(helpers.LogOptions{
		Level:            o.logLevelStr,
		FullTimestamp:    o.logFullTimestamp,
		DisableTimestamp: o.logDisableTimestamp,
		Fields:           log.Fields{"app": "theft-lakehouse"},
	})
}

// loadConfig returns the built-in pipeline, or the configuration file laid
// over it, with the host, ledger and metrics flags applied last.
func (o *rootOptions) loadConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig(o.sourceDir, o.lakeDir)
	if o.configPath != "" {
		var err error
		if cfg, err = pipeline.LoadConfig(o.configPath, cfg); err != nil {
			return pipeline.Config{}, err
		}
	}
	if o.ledgerPath != "" {
		cfg.LedgerPath = o.ledgerPath
	}
	if o.hiveHost != "" {
		cfg.Catalog.Hive.Host = o.hiveHost
	}
	if o.prestoHost != "" {
		cfg.Catalog.Presto.Host = o.prestoHost
	}
	if o.pushgatewayURL != "" {
		cfg.Metrics.PushgatewayURL = o.pushgatewayURL
	}
	return cfg, nil
}

func setupSignals() context.Context {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := <-sigs
		log.Infof("got signal %s, performing shutdown", sig)
		cancel()
	}()
	return ctx
}
