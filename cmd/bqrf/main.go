// Command bqrf registers the remote functions of a deployed bqrf-server in
// BigQuery and sends test batches to it.
package main

import (
	"os"

	"github.com/navikt/bq-remote-functions/pkg/bq"
	"github.com/navikt/bq-remote-functions/pkg/dictionary"
	"github.com/navikt/bq-remote-functions/pkg/functions"
	"github.com/navikt/bq-remote-functions/pkg/service"
	"github.com/navikt/bq-remote-functions/pkg/service/core"
	"github.com/navikt/bq-remote-functions/pkg/service/core/api/gcp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	bigQueryEndpoint string
	enableAuth       bool
	logLevel         string
}

func (o *globalOptions) logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// routineService is built against the functions compiled into this binary,
// which are the same ones the server answers.
func (o *globalOptions) routineService() service.RoutineService {
	registry := functions.NewRegistry()
	registry.MustRegister(functions.Builtins(dictionary.NewStatic(map[string]string{}))...)

	client := bq.NewClient(o.bigQueryEndpoint, o.enableAuth, o.logger().With().Str("subsystem", "bigquery").Logger())

	return core.NewRoutineService(gcp.NewRoutineAPI(client), registry)
}

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "bqrf",
		Short:         "Manage BigQuery remote functions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.PersistentFlags().StringVar(&opts.bigQueryEndpoint, "bigquery-endpoint", "", "BigQuery API endpoint, for emulators")
	cmd.PersistentFlags().BoolVar(&opts.enableAuth, "enable-auth", true, "Authenticate against BigQuery with application default credentials")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level")

	cmd.AddCommand(newDDLCommand(opts))
	cmd.AddCommand(newDeployCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newInvokeCommand(opts))

	return cmd
}
