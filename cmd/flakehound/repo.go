package main

import (
	"context"
	"os"

	"flakehound/pkg/flaky"
	"flakehound/pkg/report"

	"github.com/spf13/cobra"
)

var repoJSON bool

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Repository-scoped reports",
}

var repoSummaryCmd = &cobra.Command{
	Use:   "summary [REPO]",
	Short: "Print a longitudinal summary for a repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(args, func(ctx context.Context, a *app, repo string) error {
			summary, err := a.store.Summary(ctx, repo)
			if err != nil {
				return err
			}

			if repoJSON {
				return report.WriteJSON(os.Stdout, summary)
			}

			report.WriteSummary(os.Stdout, summary)

			return nil
		})
	},
}

var repoFlakesCmd = &cobra.Command{
	Use:   "flakes [REPO]",
	Short: "List the flaky tests recorded for a repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(args, func(ctx context.Context, a *app, repo string) error {
			tests, err := a.store.FlakyTests(ctx, repo)
			if err != nil {
				return err
			}

			if repoJSON {
				return report.WriteJSON(os.Stdout, tests)
			}

			report.WriteFlakyTests(os.Stdout, tests)

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(repoCmd)
	repoCmd.AddCommand(repoSummaryCmd)
	repoCmd.AddCommand(repoFlakesCmd)
	repoCmd.PersistentFlags().BoolVar(&repoJSON, "json", false,
		"emit JSON instead of a table")
}

// withRepo wires the common prologue of repo-scoped commands: resolve the
// target repo, fetch new artifacts for it, re-annotate, then run the
// report body.
func withRepo(
	args []string,
	fn func(ctx context.Context, a *app, repo string) error,
) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var repos []string
	if len(args) > 0 {
		repos = args[:1]
	}

	repos, err = resolveRepos(ctx, repos)
	if err != nil {
		return err
	}

	if _, err := a.ingester.Fetch(ctx, repos, ""); err != nil {
		return err
	}

	if _, err := flaky.Annotate(ctx, log, a.store, ""); err != nil {
		return err
	}

	return fn(ctx, a, repos[0])
}
