package main

import (
	"os"

	"flakehound/pkg/flaky"
	"flakehound/pkg/repl"

	"github.com/spf13/cobra"
)

var (
	replRepos  []string
	replBranch string
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive SQL shell over the database",
	RunE:  runRepl,
}

func init() {
	rootCmd.AddCommand(replCmd)
	replCmd.Flags().StringSliceVar(&replRepos, "repo", nil,
		"repository to fetch before starting (can be repeated; defaults to the current checkout)")
	replCmd.Flags().StringVar(&replBranch, "branch", "",
		"only fetch artifacts from this branch")
}

func runRepl(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	repos, err := resolveRepos(ctx, replRepos)
	if err != nil {
		return err
	}

	if _, err := a.ingester.Fetch(ctx, repos, replBranch); err != nil {
		return err
	}

	if _, err := flaky.Annotate(ctx, log, a.store, ""); err != nil {
		return err
	}

	return repl.Run(ctx, a.store, os.Stdin, os.Stdout)
}
