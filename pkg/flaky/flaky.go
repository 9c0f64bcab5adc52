// Package flaky implements the post-ingestion flaky-test annotation pass.
//
// A (classname, name) pair is flaky when it has recorded a non-passed,
// non-skipped outcome on more than one distinct branch. Flakiness is a
// property of accumulated history, so this runs after ingestion rather than
// at insertion time, and re-running it after new inserts can flip rows
// inserted earlier.
//
// Known approximation: a test failing on two branches that share no common
// ancestor is still classified flaky even though the failures may be
// unrelated.
package flaky

import (
	"context"

	"flakehound/pkg/store"

	"github.com/sirupsen/logrus"
)

// Annotate scans accumulated rows (optionally scoped to one repo) and
// marks every test whose failures span more than one branch. Returns the
// number of tests flagged in this pass.
func Annotate(
	ctx context.Context,
	log logrus.FieldLogger,
	st store.Store,
	repo string,
) (int, error) {
	rows, err := st.ListResults(ctx, repo)
	if err != nil {
		return 0, err
	}

	branches := make(map[store.TestKey]map[string]struct{})

	for _, row := range rows {
		if row.Passed || row.Skipped {
			continue
		}

		key := store.TestKey{Classname: row.Classname, Name: row.Name}
		if branches[key] == nil {
			branches[key] = make(map[string]struct{})
		}

		branches[key][row.Branch] = struct{}{}
	}

	var keys []store.TestKey

	for key, set := range branches {
		if len(set) > 1 {
			keys = append(keys, key)
		}
	}

	if err := st.MarkFlaky(ctx, keys); err != nil {
		return 0, err
	}

	if len(keys) > 0 {
		log.WithField("tests", len(keys)).Info("Marked tests as flaky")
	}

	return len(keys), nil
}
