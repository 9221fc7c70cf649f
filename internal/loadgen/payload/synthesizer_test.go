package payload

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSynthesizer(t *testing.T, cfg Config) *Synthesizer {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestBuild_DeterministicForSeed(t *testing.T) {
	cfg := Config{Seed: 42, JobID: "job-1", CustomFieldID: "cf-1", BookCandidateID: "cand-1"}
	a := newTestSynthesizer(t, cfg)
	b := newTestSynthesizer(t, cfg)
	tag := NewCorrelation(0, 0)

	for v := uint64(0); v < 200; v++ {
		x := a.Build("shift-1", v, tag)
		y := b.Build("shift-1", v, tag)
		assert.Equal(t, x, y, "variation %d", v)
	}
}

func TestBuild_DifferentSeedsDiverge(t *testing.T) {
	a := newTestSynthesizer(t, Config{Seed: 1})
	b := newTestSynthesizer(t, Config{Seed: 2})
	tag := NewCorrelation(0, 0)

	differ := false
	for v := uint64(0); v < 50; v++ {
		if !assert.ObjectsAreEqual(a.Build("id", v, tag), b.Build("id", v, tag)) {
			differ = true
			break
		}
	}
	assert.True(t, differ)
}

func TestBuild_BoundsAndTemplates(t *testing.T) {
	s := newTestSynthesizer(t, Config{Seed: 9, JobID: "job", CustomFieldID: "cf", BookCandidateID: "cand"})
	tag := NewCorrelation(3, 7)

	seen := make(map[TemplateID]int)
	for v := uint64(0); v < 2000; v++ {
		item := s.Build("target", v, tag)
		seen[item.Template]++

		assert.Equal(t, "target", item.TargetID)
		assert.Equal(t, "target", item.Shift.ID)
		if item.Shift.Rate != nil {
			assert.GreaterOrEqual(t, *item.Shift.Rate, MinRate)
			assert.Less(t, *item.Shift.Rate, MaxRate)
		}
		if item.Shift.Cost != nil {
			assert.GreaterOrEqual(t, *item.Shift.Cost, MinCost)
			assert.Less(t, *item.Shift.Cost, MaxCost)
		}
		if item.Shift.StartTime != "" {
			assert.Contains(t, Patterns, Pattern{Start: item.Shift.StartTime, End: item.Shift.EndTime})
		}
	}

	for _, id := range Templates {
		assert.Positive(t, seen[id], "template %s never selected", id)
	}
}

func TestBuild_ZeroWeightDisablesTemplate(t *testing.T) {
	s := newTestSynthesizer(t, Config{Weights: map[TemplateID]int{StatusOnly: 1, RateCost: 0}})
	for v := uint64(0); v < 100; v++ {
		item := s.Build("x", v, Correlation{})
		assert.Equal(t, StatusOnly, item.Template)
		assert.Nil(t, item.Shift.Rate)
	}
}

func TestBuild_CorrelationTag(t *testing.T) {
	s := newTestSynthesizer(t, Config{Source: "load-test"})
	tag := NewCorrelation(2, 5)

	item := s.Build("x", 1, tag)
	md := item.Shift.Metadata
	assert.Equal(t, "load-test", md.Source)
	assert.Equal(t, tag.BatchID, md.BatchID)
	assert.Equal(t, 2, md.OwnerID)
	assert.Equal(t, 5, md.Batch)
	assert.Equal(t, item.Template, md.UpdateType)
	assert.NotEmpty(t, md.GeneratedAt)

	other := NewCorrelation(2, 5)
	assert.NotEqual(t, tag.BatchID, other.BatchID)
}

func TestBuild_Create(t *testing.T) {
	base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	s := newTestSynthesizer(t, Config{BaseDate: base, JobID: "job", CustomFieldID: "cf"})

	tests := []struct {
		variation uint64
		date      string
		start     string
		location  string
		breakPaid bool
	}{
		{variation: 0, date: "2025-01-01", start: "09:00", location: "Main Office", breakPaid: true},
		{variation: 1, date: "2025-01-01", start: "14:00", location: "Branch A", breakPaid: false},
		{variation: 3, date: "2025-01-01", start: "00:00", location: "Remote", breakPaid: false},
		{variation: 4, date: "2025-01-02", start: "09:00", location: "Main Office", breakPaid: true},
		{variation: 125, date: "2025-02-01", start: "14:00", location: "Branch A", breakPaid: false},
	}

	for _, tt := range tests {
		item := s.Build("", tt.variation, Correlation{})
		assert.Equal(t, Create, item.Template)
		assert.Empty(t, item.TargetID)
		assert.Equal(t, tt.date, item.Shift.Date, "variation %d", tt.variation)
		assert.Equal(t, tt.start, item.Shift.StartTime)
		assert.Equal(t, tt.location, item.Shift.Metadata.Location)
		require.NotNil(t, item.Shift.BreakPaid)
		assert.Equal(t, tt.breakPaid, *item.Shift.BreakPaid)
		assert.Equal(t, 30, *item.Shift.BreakTime)
		assert.Equal(t, 320, *item.Shift.Cost)
		assert.Equal(t, "job", item.Shift.JobID)
		require.Len(t, item.Shift.CustomFields, 1)
	}
}

func TestBuild_UpdateBodyOmitsUntouchedFields(t *testing.T) {
	s := newTestSynthesizer(t, Config{Weights: map[TemplateID]int{StatusOnly: 1}})
	raw, err := json.Marshal(s.Build("abc", 0, Correlation{}).Shift)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.ElementsMatch(t, []string{"id", "status", "metadata"}, keys(fields))
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "custom field without id", cfg: Config{Weights: map[TemplateID]int{CustomField: 1}}},
		{name: "booking without candidate", cfg: Config{Weights: map[TemplateID]int{Booking: 1}}},
		{name: "negative weight", cfg: Config{Weights: map[TemplateID]int{StatusOnly: -1}}},
		{name: "unknown template", cfg: Config{Weights: map[TemplateID]int{StatusOnly: 1, "bogus": 1}}},
		{name: "all disabled", cfg: Config{Weights: map[TemplateID]int{StatusOnly: 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNew_DefaultWeightsSkipUnconfiguredTemplates(t *testing.T) {
	s := newTestSynthesizer(t, Config{})
	for v := uint64(0); v < 500; v++ {
		item := s.Build("x", v, Correlation{})
		assert.NotEqual(t, CustomField, item.Template)
		assert.NotEqual(t, Booking, item.Template)
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
