package junit_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flakehound/pkg/config"
	"flakehound/pkg/forge"
	"flakehound/pkg/junit"
	"flakehound/pkg/store"
)

var testArtifact = forge.Artifact{
	Repo:   "acme/widgets",
	Name:   "junit-results",
	ID:     7,
	RunID:  "12345",
	Branch: "main",
	Commit: "deadbeef",
}

func newParser(t *testing.T) *junit.Parser {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return junit.NewParser(log, config.DefaultMaxFailureText)
}

func TestParse_PassingCase(t *testing.T) {
	xml := `
	<testsuite name="suite1" timestamp="2024-01-15T10:00:00" time="1.5">
		<testcase name="test_ok" classname="pkg.TestOK" time="0.25"/>
	</testsuite>`

	rows, err := newParser(t).Parse("suite.xml", []byte(xml), testArtifact)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	want := store.TestResult{
		Artifact:       "junit-results",
		Repo:           "acme/widgets",
		Branch:         "main",
		RunID:          "12345",
		SHA:            "deadbeef",
		File:           "suite.xml",
		Suite:          "suite1",
		SuiteTimestamp: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		SuiteDuration:  1.5,
		Name:           "test_ok",
		Classname:      "pkg.TestOK",
		Duration:       0.25,
		Passed:         true,
	}

	if diff := cmp.Diff(want, rows[0]); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_MultipleFailureChildren(t *testing.T) {
	xml := `
	<testsuite name="suite1" timestamp="2024-01-15T10:00:00" time="1.5">
		<testcase name="test_bad" classname="pkg.TestBad" time="0.5">
			<failure message="first">trace one</failure>
			<failure message="second">trace two</failure>
		</testcase>
	</testsuite>`

	rows, err := newParser(t).Parse("suite.xml", []byte(xml), testArtifact)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.False(t, row.Passed)
		assert.False(t, row.Skipped)
		assert.Equal(t, "test_bad", row.Name)
	}

	require.NotNil(t, rows[0].Message)
	require.NotNil(t, rows[1].Message)
	assert.Equal(t, "first", *rows[0].Message)
	assert.Equal(t, "second", *rows[1].Message)
	assert.Equal(t, "trace one", *rows[0].Text)
	assert.Equal(t, "trace two", *rows[1].Text)

	// Everything except message/text is shared.
	a, b := rows[0], rows[1]
	a.Message, a.Text = nil, nil
	b.Message, b.Text = nil, nil
	assert.Empty(t, cmp.Diff(a, b))
}

func TestParse_ErrorChildCountsAsFailure(t *testing.T) {
	xml := `
	<testsuite name="suite1" timestamp="2024-01-15T10:00:00">
		<testcase name="test_err" classname="pkg.TestErr">
			<error message="boom">stack</error>
		</testcase>
	</testsuite>`

	rows, err := newParser(t).Parse("suite.xml", []byte(xml), testArtifact)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Passed)
	assert.False(t, rows[0].Skipped)
	assert.Equal(t, "boom", *rows[0].Message)
}

func TestParse_SkippedCase(t *testing.T) {
	xml := `
	<testsuite name="suite1" timestamp="2024-01-15T10:00:00">
		<testcase name="test_skip" classname="pkg.TestSkip">
			<skipped message="not on this platform"/>
		</testcase>
	</testsuite>`

	rows, err := newParser(t).Parse("suite.xml", []byte(xml), testArtifact)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Skipped)
	assert.False(t, rows[0].Passed)
	assert.Equal(t, "not on this platform", *rows[0].Message)
}

func TestParse_EmptyDocument(t *testing.T) {
	rows, err := newParser(t).Parse("empty.xml", nil, testArtifact)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = newParser(t).Parse("blank.xml", []byte("  \n\t"), testArtifact)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParse_MalformedXML(t *testing.T) {
	_, err := newParser(t).Parse(
		"bad.xml", []byte("<testsuite><unclosed"), testArtifact)
	require.Error(t, err)

	var parseErr *junit.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "bad.xml", parseErr.File)
}

func TestParse_UnexpectedRoot(t *testing.T) {
	_, err := newParser(t).Parse(
		"odd.xml", []byte("<report/>"), testArtifact)

	var parseErr *junit.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParse_TestsuitesWrapper(t *testing.T) {
	xml := `
	<testsuites>
		<testsuite name="a" timestamp="2024-01-15T10:00:00">
			<testcase name="t1" classname="c"/>
		</testsuite>
		<testsuite name="b" timestamp="2024-01-15T11:00:00">
			<testcase name="t2" classname="c"/>
		</testsuite>
	</testsuites>`

	rows, err := newParser(t).Parse("all.xml", []byte(xml), testArtifact)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Suite)
	assert.Equal(t, "b", rows[1].Suite)
}

func TestParse_SuiteFieldsCopiedToEveryRow(t *testing.T) {
	xml := `
	<testsuite name="suite1" timestamp="2024-01-15T10:00:00Z" time="9.75">
		<testcase name="t1" classname="c"/>
		<testcase name="t2" classname="c"/>
	</testsuite>`

	rows, err := newParser(t).Parse("suite.xml", []byte(xml), testArtifact)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.Equal(t, 9.75, row.SuiteDuration)
		assert.Equal(t,
			time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			row.SuiteTimestamp)
	}
}

func TestParse_TruncatesLongFailureText(t *testing.T) {
	const capBytes = 100

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	p := junit.NewParser(log, capBytes)

	long := strings.Repeat("x", capBytes*3)
	xml := `
	<testsuite name="suite1" timestamp="2024-01-15T10:00:00">
		<testcase name="t" classname="c">
			<failure message="m">` + long + `</failure>
		</testcase>
	</testsuite>`

	rows, err := p.Parse("suite.xml", []byte(xml), testArtifact)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Text)

	text := *rows[0].Text
	assert.Len(t, text, capBytes+len(junit.TruncationMarker))
	assert.True(t, strings.HasSuffix(text, junit.TruncationMarker))
}

func TestParse_ShortTextNotTruncated(t *testing.T) {
	xml := `
	<testsuite name="suite1" timestamp="2024-01-15T10:00:00">
		<testcase name="t" classname="c">
			<failure message="m">short</failure>
		</testcase>
	</testsuite>`

	rows, err := newParser(t).Parse("suite.xml", []byte(xml), testArtifact)
	require.NoError(t, err)
	require.Equal(t, "short", *rows[0].Text)
}
