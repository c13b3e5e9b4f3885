package helpers

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// LogOptions controls the logger built by SetupLogger.
type LogOptions struct {
	Level            string
	FullTimestamp    bool
	DisableTimestamp bool
	Fields           log.Fields
}

// SetupLogger builds a logrus FieldLogger writing to stderr, leaving stdout
// free for command output.
func SetupLogger(opts LogOptions) (log.FieldLogger, error) {
	logLevel, err := log.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %s", opts.Level)
	}
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logLevel)
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp:    opts.FullTimestamp,
		DisableTimestamp: opts.DisableTimestamp,
		TimestampFormat:  "01-02-2006 15:04:05",
	})
	entry := logger.WithFields(opts.Fields)
	entry.Debugf("setting log level to %s", logLevel.String())
	return entry, nil
}

// EnvVarName is the environment variable SetFlagsFromEnv reads for a flag:
// the flag name in UPPERCASE with dashes replaced by underscores, following
// the prefix and an underscore. For prefix=PREFIX: some-flag => PREFIX_SOME_FLAG
func EnvVarName(prefix, flagName string) string {
	return prefix + "_" + strings.ToUpper(strings.Replace(flagName, "-", "_", -1))
}

// SetFlagsFromEnv sets every flag in fs that was not given on the command
// line from its environment variable, if that variable is non-empty.
func SetFlagsFromEnv(fs *pflag.FlagSet, prefix string) (err error) {
	return setFlagsFromLookup(fs, prefix, os.LookupEnv)
}

func setFlagsFromLookup(fs *pflag.FlagSet, prefix string, lookup func(string) (string, bool)) (err error) {
	alreadySet := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) {
		alreadySet[f.Name] = true
	})
	fs.VisitAll(func(f *pflag.Flag) {
		if alreadySet[f.Name] {
			return
		}
		key := EnvVarName(prefix, f.Name)
		if val, ok := lookup(key); ok && val != "" {
			if serr := fs.Set(f.Name, val); serr != nil {
				err = fmt.Errorf("invalid value %q for %s: %v", val, key, serr)
			}
		}
	})
	return err
}
