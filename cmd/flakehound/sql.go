package main

import (
	"os"

	"flakehound/pkg/flaky"
	"flakehound/pkg/report"

	"github.com/spf13/cobra"
)

var (
	sqlRepos   []string
	sqlJSON    bool
	sqlNoFetch bool
)

var sqlCmd = &cobra.Command{
	Use:   "sql QUERY",
	Short: "Execute a SQL query against the database",
	Long: `Execute an ad hoc SQL query against the "test" table. By default new
artifacts are fetched first so the query sees current data.`,
	Args: cobra.ExactArgs(1),
	RunE: runSQL,
}

func init() {
	rootCmd.AddCommand(sqlCmd)
	sqlCmd.Flags().StringSliceVar(&sqlRepos, "repo", nil,
		"repository to fetch before querying (can be repeated; defaults to the current checkout)")
	sqlCmd.Flags().BoolVar(&sqlJSON, "json", false,
		"emit JSON instead of a table")
	sqlCmd.Flags().BoolVar(&sqlNoFetch, "no-fetch", false,
		"query the existing database without fetching")
}

func runSQL(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if !sqlNoFetch {
		repos, err := resolveRepos(ctx, sqlRepos)
		if err != nil {
			return err
		}

		if _, err := a.ingester.Fetch(ctx, repos, ""); err != nil {
			return err
		}

		if _, err := flaky.Annotate(ctx, log, a.store, ""); err != nil {
			return err
		}
	}

	res, err := a.store.Query(ctx, args[0])
	if err != nil {
		return err
	}

	if sqlJSON {
		return report.WriteJSON(os.Stdout, res.Rows)
	}

	report.WriteResult(os.Stdout, res)

	return nil
}
