package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the configuration and eval definitions without serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := newServer(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close(context.Background()) }()

			if err := srv.Config().Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Loaded %d evaluation(s) from %s\n", len(srv.Evaluators()), srv.Config().EvalsDir)
			fmt.Fprintln(out, "✓ Configuration looks good!")
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintf(out, "  1. Serve: eval-server serve (listens on %s)\n", srv.Config().Addr())
			fmt.Fprintln(out, "  2. Expose the server at a URL the Braintrust app can reach")
			fmt.Fprintln(out, "  3. Add the URL to the Braintrust Playground as a remote eval source")
			return nil
		},
	}
}
