package main

import (
	"flakehound/pkg/flaky"

	"github.com/spf13/cobra"
)

var (
	fetchRepos  []string
	fetchBranch string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch new test-result artifacts and update flaky annotations",
	Long: `Fetch lists remote CI artifacts for the given repos, downloads the ones
not yet ingested, parses their JUnit XML contents into the database, and
re-runs the flaky-test classifier over the accumulated history.`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringSliceVar(&fetchRepos, "repo", nil,
		"repository to fetch, as owner/name (can be repeated; defaults to the current checkout)")
	fetchCmd.Flags().StringVar(&fetchBranch, "branch", "",
		"only fetch artifacts from this branch")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	repos, err := resolveRepos(ctx, fetchRepos)
	if err != nil {
		return err
	}

	inserted, err := a.ingester.Fetch(ctx, repos, fetchBranch)
	if err != nil {
		return err
	}

	if inserted == 0 {
		log.Info("Database is up to date")
	}

	if _, err := flaky.Annotate(ctx, log, a.store, ""); err != nil {
		return err
	}

	return nil
}
