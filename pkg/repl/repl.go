// Package repl is a minimal interactive SQL shell over the result store.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"flakehound/pkg/report"
	"flakehound/pkg/store"
)

// Run reads SQL statements line by line and prints each result as a table.
// Query errors are printed and the loop continues; only input exhaustion,
// "exit"/"quit", or context cancellation end the session.
func Run(ctx context.Context, st store.Store, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, `Enter SQL against the "test" table; exit or Ctrl-D to quit.`)

	scanner := bufio.NewScanner(in)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fmt.Fprint(out, "flakehound> ")

		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line == "exit" || line == "quit" {
			return nil
		}

		res, err := st.Query(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		report.WriteResult(out, res)
	}
}
