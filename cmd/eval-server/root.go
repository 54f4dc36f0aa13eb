package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	evalserver "github.com/braintrustdata/braintrust-eval-server"
	"github.com/braintrustdata/braintrust-eval-server/config"
)

// flags shared by every subcommand.
type globalFlags struct {
	envFile  string
	evalsDir string
	logLevel string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "eval-server",
		Short:         "Serve Braintrust evaluations to the playground",
		Long:          "eval-server loads evaluation definitions from a directory and serves them to the Braintrust playground as a remote eval source.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			n, err := config.LoadEnvFile(flags.envFile)
			if err != nil {
				return fmt.Errorf("loading %s: %w", flags.envFile, err)
			}
			if n > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "Loaded %d variables from %s\n", n, flags.envFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&flags.evalsDir, "evals-dir", "", "directory of eval definitions (overrides EVAL_SERVER_EVALS_DIR)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides EVAL_SERVER_LOG_LEVEL)")

	serve := newServeCmd(flags)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, newCheckCmd(flags), newListCmd(flags), newRunCmd(flags))
	return root
}

// options turns the flags that were set into server options.
func (f *globalFlags) options() []evalserver.Option {
	var opts []evalserver.Option
	if f.evalsDir != "" {
		opts = append(opts, evalserver.WithEvalsDir(f.evalsDir))
	}
	if f.logLevel != "" {
		opts = append(opts, evalserver.WithLogLevel(f.logLevel))
	}
	return opts
}

func newServer(ctx context.Context, flags *globalFlags, extra ...evalserver.Option) (*evalserver.Server, error) {
	return evalserver.New(ctx, append(flags.options(), extra...)...)
}
