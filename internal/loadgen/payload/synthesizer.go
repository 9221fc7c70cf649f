// Package payload builds varied shift request bodies from a closed set of
// weighted mutation templates.
package payload

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// DefaultSource is written to metadata.source when none is configured.
const DefaultSource = "shiftload"

// Config controls payload synthesis.
type Config struct {
	// Seed fixes the random stream. Build is deterministic for a given
	// (Seed, variation) apart from the correlation tag.
	Seed uint64

	Source          string
	JobID           string
	CustomFieldID   string
	BookCandidateID string

	// BaseDate is the first day used by create bodies.
	BaseDate time.Time

	// Weights selects update templates. A nil map enables every template whose
	// required field is configured, with equal weight. Zero disables a template.
	Weights map[TemplateID]int
}

type weighted struct {
	id     TemplateID
	fn     templateFunc
	cumsum int
}

// Synthesizer builds request bodies. It holds no mutable state and is safe
// for concurrent use.
type Synthesizer struct {
	cfg       Config
	templates []weighted
	total     int
}

// New validates cfg and prepares the weighted template table.
func New(cfg Config) (*Synthesizer, error) {
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.BaseDate.IsZero() {
		cfg.BaseDate = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	}

	weights := cfg.Weights
	if weights == nil {
		weights = defaultWeights(cfg)
	}

	s := &Synthesizer{cfg: cfg}
	for _, id := range Templates {
		w := weights[id]
		if w < 0 {
			return nil, fmt.Errorf("template %s: weight must be >= 0, got %d", id, w)
		}
		if w == 0 {
			continue
		}
		if err := requireFields(cfg, id); err != nil {
			return nil, err
		}
		s.total += w
		s.templates = append(s.templates, weighted{id: id, fn: templateFor(id), cumsum: s.total})
	}

	for id := range weights {
		if templateFor(id) == nil {
			return nil, fmt.Errorf("unknown template %q", id)
		}
	}
	if s.total == 0 {
		return nil, fmt.Errorf("at least one template must have a positive weight")
	}

	return s, nil
}

func defaultWeights(cfg Config) map[TemplateID]int {
	w := map[TemplateID]int{
		StatusOnly:  1,
		RateCost:    1,
		TimeWindow:  1,
		FullReplace: 1,
	}
	if cfg.CustomFieldID != "" {
		w[CustomField] = 1
	}
	if cfg.BookCandidateID != "" {
		w[Booking] = 1
	}
	return w
}

func requireFields(cfg Config, id TemplateID) error {
	switch {
	case id == CustomField && cfg.CustomFieldID == "":
		return fmt.Errorf("template %s requires customFieldId", id)
	case id == Booking && cfg.BookCandidateID == "":
		return fmt.Errorf("template %s requires bookCandidateId", id)
	}
	return nil
}

// Seed returns the configured seed.
func (s *Synthesizer) Seed() uint64 {
	return s.cfg.Seed
}

// Build generates one item. An empty id produces a create body where
// variation is the global create index; otherwise a template is chosen by
// weight and applied to id.
func (s *Synthesizer) Build(id string, variation uint64, c Correlation) Item {
	r := rand.New(rand.NewPCG(s.cfg.Seed, variation))

	var item Item
	if id == "" {
		item = Item{Template: Create, Shift: create(s, r, variation)}
	} else {
		t := s.pick(r)
		item = Item{TargetID: id, Template: t.id, Shift: t.fn(s, r, id, variation)}
	}

	item.Shift.Metadata.Source = s.cfg.Source
	item.Shift.Metadata.BatchID = c.BatchID
	item.Shift.Metadata.OwnerID = c.OwnerID
	item.Shift.Metadata.Batch = c.Batch
	item.Shift.Metadata.GeneratedAt = c.GeneratedAt.Format(time.RFC3339Nano)
	item.Shift.Metadata.UpdateType = item.Template
	return item
}

func (s *Synthesizer) pick(r *rand.Rand) weighted {
	n := r.IntN(s.total)
	for _, t := range s.templates {
		if n < t.cumsum {
			return t
		}
	}
	return s.templates[len(s.templates)-1]
}
