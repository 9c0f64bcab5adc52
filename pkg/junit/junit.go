// Package junit parses JUnit-style XML documents into normalized test
// result rows. Parsing is a pure transformation: one XML document in, a
// finite slice of rows out.
package junit

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"flakehound/pkg/forge"
	"flakehound/pkg/store"

	"github.com/sirupsen/logrus"
)

// TruncationMarker is appended to failure text cut at the configured cap.
const TruncationMarker = " [truncated]"

// ParseError indicates a malformed XML document.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser turns JUnit XML payloads into store rows.
type Parser struct {
	log logrus.FieldLogger

	// maxText caps failure text length, in bytes.
	maxText int
}

// NewParser creates a Parser with the given failure-text cap.
func NewParser(log logrus.FieldLogger, maxText int) *Parser {
	return &Parser{
		log:     log.WithField("component", "junit"),
		maxText: maxText,
	}
}

type xmlSuites struct {
	Suites []xmlSuite `xml:"testsuite"`
}

type xmlSuite struct {
	Name      string    `xml:"name,attr"`
	Timestamp string    `xml:"timestamp,attr"`
	Time      float64   `xml:"time,attr"`
	Cases     []xmlCase `xml:"testcase"`
}

type xmlCase struct {
	Name      string     `xml:"name,attr"`
	Classname string     `xml:"classname,attr"`
	Time      float64    `xml:"time,attr"`
	Failures  []xmlEntry `xml:"failure"`
	Errors    []xmlEntry `xml:"error"`
	Skipped   *xmlEntry  `xml:"skipped"`
}

type xmlEntry struct {
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

// Parse converts one JUnit XML document into rows, stamping each row with
// the enclosing artifact's metadata. An empty payload yields zero rows and
// a warning; malformed XML yields a *ParseError. Both <testsuites>-wrapped
// documents and bare <testsuite> roots are accepted.
func (p *Parser) Parse(
	fileName string, data []byte, art forge.Artifact,
) ([]store.TestResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		p.log.WithFields(logrus.Fields{
			"file":     fileName,
			"artifact": art.Name,
		}).Warn("Skipping empty XML file")

		return nil, nil
	}

	suites, err := decodeSuites(data)
	if err != nil {
		return nil, &ParseError{File: fileName, Err: err}
	}

	var rows []store.TestResult

	for _, suite := range suites {
		ts, err := parseTimestamp(suite.Timestamp)
		if err != nil {
			return nil, &ParseError{File: fileName, Err: err}
		}

		for _, tc := range suite.Cases {
			rows = append(rows, p.caseRows(fileName, art, suite, ts, tc)...)
		}
	}

	return rows, nil
}

// caseRows expands one test case into rows. A passed case has no result
// children and yields exactly one row; a case with N failure/error/skipped
// children yields N rows sharing every field except message and text.
func (p *Parser) caseRows(
	fileName string,
	art forge.Artifact,
	suite xmlSuite,
	suiteTime time.Time,
	tc xmlCase,
) []store.TestResult {
	results := make([]xmlEntry, 0, len(tc.Failures)+len(tc.Errors)+1)
	results = append(results, tc.Failures...)
	results = append(results, tc.Errors...)

	if tc.Skipped != nil {
		results = append(results, *tc.Skipped)
	}

	passed := len(results) == 0
	skipped := tc.Skipped != nil

	base := store.TestResult{
		Artifact:       art.Name,
		Repo:           art.Repo,
		Branch:         art.Branch,
		RunID:          art.RunID,
		SHA:            art.Commit,
		File:           fileName,
		Suite:          suite.Name,
		SuiteTimestamp: suiteTime,
		SuiteDuration:  suite.Time,
		Name:           tc.Name,
		Classname:      tc.Classname,
		Duration:       tc.Time,
		Passed:         passed,
		Skipped:        skipped,
	}

	if passed {
		return []store.TestResult{base}
	}

	rows := make([]store.TestResult, 0, len(results))

	for _, res := range results {
		row := base
		message := res.Message
		row.Message = &message
		text := p.truncate(res.Text)
		row.Text = &text
		rows = append(rows, row)
	}

	return rows
}

// truncate caps failure text at maxText bytes, appending TruncationMarker
// when anything was cut.
func (p *Parser) truncate(text string) string {
	if p.maxText <= 0 || len(text) <= p.maxText {
		return text
	}

	return text[:p.maxText] + TruncationMarker
}

// decodeSuites reads the document's root element and decodes either a
// <testsuites> wrapper or a single bare <testsuite>.
func decodeSuites(data []byte) ([]xmlSuite, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("no root element found")
		}

		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "testsuites":
			var doc xmlSuites
			if err := dec.DecodeElement(&doc, &start); err != nil {
				return nil, err
			}

			return doc.Suites, nil
		case "testsuite":
			var suite xmlSuite
			if err := dec.DecodeElement(&suite, &start); err != nil {
				return nil, err
			}

			return []xmlSuite{suite}, nil
		default:
			return nil, fmt.Errorf("unexpected root element <%s>",
				start.Name.Local)
		}
	}
}

// suiteTimestampFormats covers the timestamp shapes emitted by common JUnit
// producers: RFC3339 with and without zone or fractional seconds.
var suiteTimestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	for _, format := range suiteTimestampFormats {
		if ts, err := time.Parse(format, value); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized suite timestamp %q", value)
}
