package output

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/shiftload/internal/loadgen/engine"
)

// OutputFormat represents the available report formats
type OutputFormat string

const (
	// FormatJSON outputs in JSON format
	FormatJSON OutputFormat = "json"
	// FormatYAML outputs in YAML format
	FormatYAML OutputFormat = "yaml"
	// FormatJUnit outputs in JUnit XML format (for CI/CD integration)
	FormatJUnit OutputFormat = "junit"
)

// ParseFormat parses a format name.
func ParseFormat(name string) (OutputFormat, error) {
	switch strings.ToLower(name) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "junit", "xml":
		return FormatJUnit, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json, yaml or junit)", name)
	}
}

// FormatForPath picks a format from a file extension, defaulting to JSON.
func FormatForPath(path string) OutputFormat {
	f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return FormatJSON
	}
	return f
}

// WriteResult encodes a run result in the given format.
func WriteResult(w io.Writer, format OutputFormat, result *engine.Result) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	case FormatJUnit:
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return err
		}
		enc := xml.NewEncoder(w)
		enc.Indent("", "  ")
		if err := enc.Encode(JUnitFromResult(result)); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// JUnitTestSuites represents the root element containing all test suites
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Time       float64          `xml:"time,attr"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a JUnit test suite
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
	SystemErr string          `xml:"system-err,omitempty"`
}

// JUnitTestCase represents a JUnit test case
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
}

// JUnitFailure represents a JUnit test failure
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// JUnitFromResult maps each scenario to a suite and each threshold to a
// test case. A scenario that could not run gets an error.
func JUnitFromResult(result *engine.Result) *JUnitTestSuites {
	suites := &JUnitTestSuites{
		Name: result.Name,
		Time: result.Duration.Seconds(),
	}

	for _, report := range result.Scenarios {
		suite := JUnitTestSuite{
			Name:      report.Scenario,
			Time:      report.Duration.Seconds(),
			Timestamp: result.StartTime.UTC().Format("2006-01-02T15:04:05"),
			SystemOut: strings.Join(report.Warnings, "\n"),
			SystemErr: report.Error,
		}
		if report.Error != "" {
			suite.Errors = 1
		}

		for _, tr := range report.ThresholdResults {
			tc := JUnitTestCase{
				Name:      tr.Name,
				Classname: report.Scenario,
			}
			if !tr.Passed {
				tc.Failure = &JUnitFailure{
					Message: fmt.Sprintf("%s: actual %g", tr.Name, tr.Actual),
					Type:    "threshold",
					Content: fmt.Sprintf("expected %s %s, got %g", tr.Metric, tr.Expression, tr.Actual),
				}
				if tr.NoData {
					tc.Failure.Content += " (no data)"
				}
				suite.Failures++
			}
			suite.TestCases = append(suite.TestCases, tc)
		}
		suite.Tests = len(suite.TestCases)

		suites.Tests += suite.Tests
		suites.Failures += suite.Failures
		suites.TestSuites = append(suites.TestSuites, suite)
	}
	return suites
}
