// Package output renders live progress and the final summary of a run.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen/engine"
	"github.com/wesleyorama2/shiftload/internal/loadgen/executor"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
	shared "github.com/wesleyorama2/shiftload/internal/output"
)

// Cursor control.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	ruleWidth = 56
	boxWidth  = 55
)

// LiveStats is one scenario's state for the live display.
type LiveStats struct {
	Scenario  string
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	RateLimited   int64
	Dropped       int64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int
	TotalStages  int
}

// ConsoleOutput manages console output during a run.
type ConsoleOutput struct {
	testName       string
	updateInterval time.Duration
	writer         io.Writer
	isTTY          bool
	quiet          bool
	noColor        bool
	colors         *shared.ColorScheme

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig configures a ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName       string
	UpdateInterval time.Duration
	Writer         io.Writer
	Quiet          bool
	NoColor        bool
	ForceColors    bool
	ForceTTY       bool
}

// NewConsoleOutput creates a console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	if config.UpdateInterval == 0 {
		config.UpdateInterval = time.Second
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	colors := shared.NoColorScheme()
	if useColors {
		colors = shared.ForcedColorScheme()
	}

	return &ConsoleOutput{
		testName:       config.TestName,
		updateInterval: config.UpdateInterval,
		writer:         config.Writer,
		isTTY:          isTTY,
		quiet:          config.Quiet,
		noColor:        !useColors,
		colors:         colors,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// UpdateInterval returns how often Watch refreshes the display.
func (c *ConsoleOutput) UpdateInterval() time.Duration {
	return c.updateInterval
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader(scenarios []string, seed uint64) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, ruleWidth)
	c.writeln(c.colors.Title.Sprint(line))
	c.writeln(c.colors.Label.Sprintf("%s - Running", c.testName))
	c.writeln(c.colors.Dim.Sprintf("scenarios: %s | seed: %d", strings.Join(scenarios, ", "), seed))
	c.writeln(c.colors.Title.Sprint(line))
	c.writeln("")
}

// Update redraws the live display. On a non-terminal it prints one line
// per scenario instead.
func (c *ConsoleOutput) Update(stats []*LiveStats) {
	if c.quiet {
		return
	}
	if !c.isTTY {
		for _, s := range stats {
			c.PrintNonInteractiveUpdate(s)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	var lines []string
	for _, s := range stats {
		lines = append(lines, c.renderLiveStats(s)...)
	}
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	bar := renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("%s %s %s | %s",
		c.colors.Label.Sprintf("%-12s", stats.Scenario),
		c.colors.Pass.Sprint(bar),
		c.colors.Label.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.Dim.Sprint(timeInfo)))

	phase := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phase = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:       %s", c.colors.Phase.Sprint(phase)))

	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", c.colors.Value.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqs := fmt.Sprintf("Requests:    %s", c.colors.Value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vus, reqs))

	errColor := c.colors.ForErrorRate(stats.ErrorRate)
	rps := fmt.Sprintf("RPS:     %s", c.colors.Pass.Sprintf("%.1f", stats.CurrentRPS))
	errs := fmt.Sprintf("Errors:      %s (%s)", errColor.Sprint(stats.Errors), errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rps, errs))

	p95 := fmt.Sprintf("P95:     %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avg := fmt.Sprintf("Avg:         %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95, avg))

	limited := fmt.Sprintf("429s:    %s", c.colors.Warn.Sprint(stats.RateLimited))
	dropped := fmt.Sprintf("Dropped:     %s", c.colors.Warn.Sprint(stats.Dropped))
	lines = append(lines, c.formatBoxRow(limited, dropped))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

// formatBoxRow lays out two columns inside the stats box.
func (c *ConsoleOutput) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2
	leftPadding := max(colWidth-visibleLen(left), 0)
	rightPadding := max(colWidth-visibleLen(right), 0)

	border := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border, left, strings.Repeat(" ", leftPadding),
		border, right, strings.Repeat(" ", rightPadding),
		border)
}

// PrintNonInteractiveUpdate prints a one-line status, for CI logs and pipes.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s: %.0f%% | VUs: %d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | 429s: %d | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Scenario,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		stats.RateLimited,
		formatDurationShort(stats.LatencyP95)))
}

// summaryTrends are the trend series shown in the summary, in order.
var summaryTrends = []string{
	metrics.HTTPReqDuration,
	metrics.HTTPReqWaiting,
	metrics.HTTPReqConnecting,
	metrics.BatchSizeImpact,
	metrics.IterationDuration,
}

// summaryRates are the rate series shown in the summary, in order.
var summaryRates = []string{
	metrics.HTTPReqFailed,
	metrics.Checks,
	metrics.SlowResponses,
	metrics.RateLimitHits,
	metrics.MalformedResponses,
}

// PrintSummary prints the final report.
func (c *ConsoleOutput) PrintSummary(result *engine.Result) {
	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Pass.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Fail.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, ruleWidth)
	status := c.colors.Pass.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.Fail.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.colors.Title.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Label.Sprint(result.Name), status))
	c.writeln(c.colors.Title.Sprint(line))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Seed:          %s", c.colors.Value.Sprint(result.Seed)))

	for _, report := range result.Scenarios {
		c.printScenario(report)
	}
}

func (c *ConsoleOutput) printScenario(r *engine.RunReport) {
	c.writeln("")
	status := shared.SuccessIcon(c.noColor)
	if !r.Passed {
		status = shared.ErrorIcon(c.noColor)
	}
	c.writeln(fmt.Sprintf("%s %s %s", status,
		c.colors.Highlight.Sprint(r.Scenario),
		c.colors.Dim.Sprintf("(%s, %s, %s)", r.Operation, r.Executor, formatDuration(r.Duration))))

	if r.Error != "" {
		c.writeln(fmt.Sprintf("  %s %s", shared.ErrorIcon(c.noColor), c.colors.Fail.Sprint(r.Error)))
	}

	reqs := r.Metrics[metrics.HTTPReqs].Count
	c.writeln(fmt.Sprintf("  Requests:    %s   Iterations: %s   Dropped: %s",
		c.colors.Value.Sprint(formatNumber(reqs)),
		c.colors.Value.Sprint(formatNumber(r.Iterations)),
		c.colors.Value.Sprint(formatNumber(r.DroppedIterations))))
	if r.Claimed > 0 {
		c.writeln(fmt.Sprintf("  Claimed:     %s identifiers across %d owners",
			c.colors.Value.Sprint(formatNumber(int64(r.Claimed))), r.Owners))
	}

	c.writeln(c.colors.Label.Sprint("  Outcomes:"))
	for _, class := range outcome.Classifications {
		n := r.Classifications[class]
		if n == 0 {
			continue
		}
		col := c.colors.Pass
		switch {
		case class == outcome.RateLimited:
			col = c.colors.Warn
		case class.IsError():
			col = c.colors.Fail
		}
		c.writeln(fmt.Sprintf("    %-14s %s", class, col.Sprint(formatNumber(n))))
	}

	c.writeln(c.colors.Label.Sprint("  Latency (ms):"))
	c.writeln(c.colors.Dim.Sprintf("    %-22s %9s %9s %9s %9s %9s", "", "avg", "med", "p95", "p99", "max"))
	for _, name := range summaryTrends {
		s, ok := r.Metrics[name]
		if !ok || s.Count == 0 {
			continue
		}
		c.writeln(fmt.Sprintf("    %-22s %s", name, c.colors.Latency.Sprintf("%9.1f %9.1f %9.1f %9.1f %9.1f",
			s.Avg, s.Med, s.P95, s.P99, s.Max)))
	}

	c.writeln(c.colors.Label.Sprint("  Rates:"))
	for _, name := range summaryRates {
		s, ok := r.Metrics[name]
		if !ok || s.Count == 0 {
			continue
		}
		c.writeln(fmt.Sprintf("    %-22s %s", name, c.colors.Value.Sprintf("%.2f%%", s.Rate*100)))
	}

	if len(r.ThresholdResults) > 0 {
		c.writeln(c.colors.Label.Sprint("  Thresholds:"))
		results := append([]metrics.ThresholdResult(nil), r.ThresholdResults...)
		sort.SliceStable(results, func(i, j int) bool { return results[i].Name < results[j].Name })
		for _, t := range results {
			icon := shared.SuccessIcon(c.noColor)
			if !t.Passed {
				icon = shared.ErrorIcon(c.noColor)
			}
			note := ""
			if t.NoData {
				note = " no data"
			}
			c.writeln(fmt.Sprintf("    %s %s %s", icon, t.Name, c.colors.Dim.Sprintf("(actual: %g%s)", t.Actual, note)))
		}
	}

	for _, w := range r.Warnings {
		c.writeln(fmt.Sprintf("  %s %s", shared.WarningIcon(c.noColor), c.colors.Warn.Sprint(w)))
	}
}

// Watch redraws the live display every update interval until ctx is done.
func (c *ConsoleOutput) Watch(ctx context.Context, eng *engine.Engine) {
	if c.quiet {
		return
	}

	ticker := time.NewTicker(c.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snaps := eng.GetSnapshots()
			execStats := eng.GetScenarioStats()
			var stats []*LiveStats
			for _, name := range eng.Scenarios() {
				if _, ok := snaps[name]; !ok {
					continue
				}
				stats = append(stats, StatsFromSnapshot(name, snaps[name], execStats[name]))
			}
			if len(stats) > 0 {
				c.Update(stats)
			}
		}
	}
}

// StatsFromSnapshot builds the live view of one scenario.
func StatsFromSnapshot(scenario string, snap *metrics.Snapshot, exec *executor.Stats) *LiveStats {
	stats := &LiveStats{
		Scenario:     scenario,
		CurrentPhase: "initializing",
	}
	if exec != nil {
		stats.TargetVUs = exec.TargetVUs
		stats.TotalStages = exec.TotalStages
		stats.CurrentStage = exec.CurrentStage + 1
		stats.Elapsed = exec.Elapsed
		if exec.TotalDuration > 0 {
			stats.Progress = min(float64(exec.Elapsed)/float64(exec.TotalDuration), 1)
			stats.Remaining = max(exec.TotalDuration-exec.Elapsed, 0)
		}
	}
	if snap == nil {
		return stats
	}

	stats.ActiveVUs = snap.ActiveVUs
	stats.CurrentRPS = snap.CurrentRPS
	stats.TotalRequests = snap.TotalRequests
	stats.Errors = snap.FailedRequests
	stats.ErrorRate = snap.ErrorRate
	stats.RateLimited = snap.RateLimited
	stats.Dropped = snap.DroppedIterations
	stats.LatencyP95 = snap.Latency.P95
	stats.LatencyAvg = snap.Latency.Mean
	stats.CurrentPhase = string(snap.CurrentPhase)
	return stats
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 || len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// visibleLen is the printed width of s, ignoring ANSI escapes.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		n++
	}
	return n
}
