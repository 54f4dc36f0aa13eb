package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	evalserver "github.com/braintrustdata/braintrust-eval-server"
	"github.com/braintrustdata/braintrust-eval-server/config"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the evaluations over HTTP (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := config.FromEnv()
			extra := addrFlags(cmd, cfg, host, port)
			// Fail before loading anything when inference cannot work.
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			srv, err := newServer(ctx, flags, extra...)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close(context.Background()) }()

			fmt.Fprintln(cmd.ErrOrStderr(), srv.String())
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides EVAL_SERVER_HOST)")
	cmd.Flags().IntVar(&port, "port", 8000, "listen port (overrides EVAL_SERVER_PORT)")
	return cmd
}

// addrFlags applies the --host and --port flags that were actually given
// to cfg and returns the matching server option. Unset flags leave the
// environment's value alone.
func addrFlags(cmd *cobra.Command, cfg *config.Config, host string, port int) []evalserver.Option {
	hostSet, portSet := cmd.Flags().Changed("host"), cmd.Flags().Changed("port")
	if !hostSet && !portSet {
		return nil
	}
	if hostSet {
		cfg.Host = host
	}
	if portSet {
		cfg.Port = port
	}
	return []evalserver.Option{evalserver.WithAddr(cfg.Host, cfg.Port)}
}
