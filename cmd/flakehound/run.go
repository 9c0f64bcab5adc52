package main

import (
	"context"
	"os"

	"flakehound/pkg/flaky"
	"flakehound/pkg/forge"
	"flakehound/pkg/report"
	"flakehound/pkg/store"

	"github.com/spf13/cobra"
)

var (
	runRepo   string
	runBranch string
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reports scoped to the latest run of a branch",
	Long: `Run-scoped commands resolve the most recent CI run recorded for a branch
(defaulting to the current checkout's branch) and report on it. Fetching
always covers the whole repository, not just the branch, because flake
detection needs cross-branch history.`,
}

var runShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the failed tests of the latest run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRun(func(ctx context.Context, a *app, run *store.Run) error {
			tests, err := a.store.FailingTests(ctx, run.Repo, run.ID)
			if err != nil {
				return err
			}

			if runJSON {
				return report.WriteJSON(os.Stdout, tests)
			}

			report.WriteFailingTests(os.Stdout, run, tests)

			return nil
		})
	},
}

var runFlakesCmd = &cobra.Command{
	Use:   "flakes",
	Short: "List flaky tests for the run's repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRun(func(ctx context.Context, a *app, run *store.Run) error {
			tests, err := a.store.FlakyTests(ctx, run.Repo)
			if err != nil {
				return err
			}

			if runJSON {
				return report.WriteJSON(os.Stdout, tests)
			}

			report.WriteFlakyTests(os.Stdout, tests)

			return nil
		})
	},
}

var runRerunCmd = &cobra.Command{
	Use:   "rerun",
	Short: "Rerun the failed jobs of the latest run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRun(func(ctx context.Context, a *app, run *store.Run) error {
			return a.forge.RerunFailedJobs(ctx, run.Repo, run.ID)
		})
	},
}

var runSQLCmd = &cobra.Command{
	Use:   "sql QUERY",
	Short: "Execute a SQL query after fetching the run's repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRun(func(ctx context.Context, a *app, run *store.Run) error {
			res, err := a.store.Query(ctx, args[0])
			if err != nil {
				return err
			}

			if runJSON {
				return report.WriteJSON(os.Stdout, res.Rows)
			}

			report.WriteResult(os.Stdout, res)

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runShowCmd)
	runCmd.AddCommand(runFlakesCmd)
	runCmd.AddCommand(runRerunCmd)
	runCmd.AddCommand(runSQLCmd)

	runCmd.PersistentFlags().StringVar(&runRepo, "repo", "",
		"repository as owner/name (defaults to the current checkout)")
	runCmd.PersistentFlags().StringVar(&runBranch, "branch", "",
		"branch whose latest run to target (defaults to the current branch)")
	runCmd.PersistentFlags().BoolVar(&runJSON, "json", false,
		"emit JSON instead of a table")
}

// withRun fetches the repo's new artifacts, re-annotates, resolves the
// latest run for the target branch from the store, and hands it to the
// command body.
func withRun(fn func(ctx context.Context, a *app, run *store.Run) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var repos []string
	if runRepo != "" {
		repos = []string{runRepo}
	}

	repos, err = resolveRepos(ctx, repos)
	if err != nil {
		return err
	}

	branch := runBranch
	if branch == "" {
		branch, err = forge.CurrentBranch(ctx)
		if err != nil {
			return err
		}
	}

	// Fetch the whole repo, not just the branch: flake detection needs
	// results across branches.
	if _, err := a.ingester.Fetch(ctx, repos, ""); err != nil {
		return err
	}

	if _, err := flaky.Annotate(ctx, log, a.store, ""); err != nil {
		return err
	}

	run, err := a.store.LatestRun(ctx, repos[0], branch)
	if err != nil {
		return err
	}

	return fn(ctx, a, run)
}
