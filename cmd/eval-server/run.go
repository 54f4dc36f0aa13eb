package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	evalserver "github.com/braintrustdata/braintrust-eval-server"
	"github.com/braintrustdata/braintrust-eval-server/eval"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		quiet bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run one evaluation locally against its own dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := newServer(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close(context.Background()) }()

			out := cmd.OutOrStdout()
			opts := evalserver.RunOptions{Limit: limit}
			if !quiet {
				opts.OnCase = func(c eval.CaseResult[any, any]) {
					fmt.Fprintf(out, "case %s: %s\n", c.SpanID, formatScores(c))
				}
			}

			result, err := srv.Run(cmd.Context(), args[0], opts)
			if result != nil {
				fmt.Fprintln(out, result.String())
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print the summary")
	cmd.Flags().IntVar(&limit, "limit", 0, "only run the first N cases")
	return cmd
}

func formatScores(c eval.CaseResult[any, any]) string {
	if c.Err != nil {
		return "error: " + c.Err.Error()
	}
	scores := append(eval.Scores(nil), c.Scores...)
	sort.Slice(scores, func(i, j int) bool { return scores[i].Name < scores[j].Name })
	s := ""
	for i, sc := range scores {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%.2f", sc.Name, sc.Score)
	}
	return s
}
