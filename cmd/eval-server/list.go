package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the loaded evaluations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := newServer(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close(context.Background()) }()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPROJECT\tSCORES\tPARAMETERS")
			for _, ev := range srv.Evaluators() {
				params := make([]string, 0, len(ev.Parameters))
				for key := range ev.Parameters {
					params = append(params, key)
				}
				sort.Strings(params)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Name, ev.ProjectName,
					strings.Join(ev.ScorerNames(), ", "), strings.Join(params, ", "))
			}
			return w.Flush()
		},
	}
}
