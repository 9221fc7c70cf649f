package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Op is a threshold comparison operator.
type Op string

const (
	OpLess      Op = "<"
	OpLessEq    Op = "<="
	OpGreater   Op = ">"
	OpGreaterEq Op = ">="
	OpEqual     Op = "=="
	OpNotEqual  Op = "!="
)

// Compare applies the operator to actual and expected.
func (op Op) Compare(actual, expected float64) bool {
	switch op {
	case OpLess:
		return actual < expected
	case OpLessEq:
		return actual <= expected
	case OpGreater:
		return actual > expected
	case OpGreaterEq:
		return actual >= expected
	case OpEqual:
		return actual == expected
	case OpNotEqual:
		return actual != expected
	default:
		return false
	}
}

// Threshold is a pass/fail predicate over one statistic of a series, such
// as "p(95) < 500ms" on http_req_duration.
type Threshold struct {
	Metric     string
	Expression string
	Stat       string
	Op         Op
	Value      float64
}

// Name is the display name "metric: expression".
func (t Threshold) Name() string {
	return t.Metric + ": " + t.Expression
}

// ThresholdResult is the evaluation of one threshold.
type ThresholdResult struct {
	Name       string  `json:"name" yaml:"name"`
	Metric     string  `json:"metric" yaml:"metric"`
	Expression string  `json:"expression" yaml:"expression"`
	Passed     bool    `json:"passed" yaml:"passed"`
	Actual     float64 `json:"actual" yaml:"actual"`
	Expected   float64 `json:"expected" yaml:"expected"`
	// NoData is set when the series received no observations.
	NoData bool `json:"noData,omitempty" yaml:"noData,omitempty"`
}

var thresholdPattern = regexp.MustCompile(`^(\w+(?:\(\d+(?:\.\d+)?\))?)\s*(<=|>=|==|!=|<|>)\s*(.+)$`)

var shortPercentile = regexp.MustCompile(`^p(\d+(?:\.\d+)?)$`)

// ParseThreshold parses an expression like "p(95) < 500ms", "p99<2s",
// "avg < 300" or "rate < 0.05" for the named metric. Duration values are
// converted to milliseconds; bare numbers are taken as-is.
func ParseThreshold(metric, expr string) (Threshold, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return Threshold{}, fmt.Errorf("threshold metric cannot be empty")
	}

	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Threshold{}, fmt.Errorf("threshold expression cannot be empty")
	}

	m := thresholdPattern.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold expression %q: want <stat> <op> <value>", expr)
	}

	stat, err := normalizeStat(m[1])
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold expression %q: %w", expr, err)
	}

	value, err := parseThresholdValue(strings.TrimSpace(m[3]))
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold expression %q: %w", expr, err)
	}

	return Threshold{
		Metric:     metric,
		Expression: expr,
		Stat:       stat,
		Op:         Op(m[2]),
		Value:      value,
	}, nil
}

// ParseThresholds parses a metric -> expressions map. The result is ordered
// by metric name, then by declaration order.
func ParseThresholds(defs map[string][]string) ([]Threshold, error) {
	metricNames := make([]string, 0, len(defs))
	for name := range defs {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)

	var out []Threshold
	for _, name := range metricNames {
		for _, expr := range defs[name] {
			th, err := ParseThreshold(name, expr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out = append(out, th)
		}
	}
	return out, nil
}

// normalizeStat maps p95 and p(95) to "p(95)" and checks the rest.
func normalizeStat(s string) (string, error) {
	switch s {
	case "avg", "min", "max", "med", "rate", "count":
		return s, nil
	}

	var k string
	if strings.HasPrefix(s, "p(") && strings.HasSuffix(s, ")") {
		k = s[2 : len(s)-1]
	} else if m := shortPercentile.FindStringSubmatch(s); m != nil {
		k = m[1]
	} else {
		return "", fmt.Errorf("unknown statistic %q (avg, min, max, med, p(N), rate, count)", s)
	}

	f, err := strconv.ParseFloat(k, 64)
	if err != nil || f <= 0 || f > 100 {
		return "", fmt.Errorf("percentile must be in (0, 100], got %q", k)
	}
	return "p(" + k + ")", nil
}

func parseThresholdValue(s string) (float64, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("value %q is neither a number nor a duration", s)
	}
	return ms(d), nil
}

// statValue extracts stat from a summary.
func statValue(s Summary, stat string) float64 {
	switch stat {
	case "avg":
		return s.Avg
	case "min":
		return s.Min
	case "max":
		return s.Max
	case "med":
		return s.Med
	case "rate":
		return s.Rate
	case "count":
		return float64(s.Count)
	}

	k, _ := strconv.ParseFloat(strings.TrimSuffix(strings.TrimPrefix(stat, "p("), ")"), 64)
	return s.Percentile(k)
}

// Evaluate computes every threshold against the aggregator's final state.
// A series that never received observations is evaluated against a zero
// summary and flagged NoData.
func (a *Aggregator) Evaluate(thresholds []Threshold) []ThresholdResult {
	results := make([]ThresholdResult, 0, len(thresholds))
	cache := make(map[string]Summary)

	for _, th := range thresholds {
		s, ok := cache[th.Metric]
		if !ok {
			s, _ = a.Summary(th.Metric)
			cache[th.Metric] = s
		}

		actual := statValue(s, th.Stat)
		results = append(results, ThresholdResult{
			Name:       th.Name(),
			Metric:     th.Metric,
			Expression: th.Expression,
			Passed:     th.Op.Compare(actual, th.Value),
			Actual:     actual,
			Expected:   th.Value,
			NoData:     s.Count == 0,
		})
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
