package payload

import (
	"fmt"
	"math/rand/v2"
)

// TemplateID names one field-mutation template.
type TemplateID string

const (
	StatusOnly  TemplateID = "status-only"
	RateCost    TemplateID = "rate-cost"
	TimeWindow  TemplateID = "time-window"
	CustomField TemplateID = "custom-field"
	FullReplace TemplateID = "full-replace"
	Booking     TemplateID = "booking"

	// Create is used for bodies without a target identifier.
	Create TemplateID = "create"
)

// Templates lists the update templates in selection order.
var Templates = []TemplateID{StatusOnly, RateCost, TimeWindow, CustomField, FullReplace, Booking}

// ParseTemplate resolves an update template by name.
func ParseTemplate(name string) (TemplateID, bool) {
	for _, id := range Templates {
		if string(id) == name {
			return id, true
		}
	}
	return "", false
}

// Value bounds for generated fields. Upper bounds are exclusive.
const (
	MinRate = 25
	MaxRate = 45
	MinCost = 300
	MaxCost = 400

	createBreakTime = 30
	createCost      = 320
)

// Pattern is a start/end time pair from the shift catalogue.
type Pattern struct {
	Start string
	End   string
}

// Patterns is the fixed catalogue of shift windows. Locations and tag names
// share its indexing.
var Patterns = []Pattern{
	{Start: "09:00", End: "17:00"},
	{Start: "14:00", End: "22:00"},
	{Start: "16:00", End: "00:00"},
	{Start: "00:00", End: "08:00"},
}

var (
	locations = []string{"Main Office", "Branch A", "Branch B", "Remote"}
	tagNames  = []string{"Morning", "Afternoon", "Evening", "Night"}
	statuses  = []string{"confirmed", "available"}
)

type templateFunc func(s *Synthesizer, r *rand.Rand, id string, variation uint64) Shift

func templateFor(id TemplateID) templateFunc {
	switch id {
	case StatusOnly:
		return statusOnly
	case RateCost:
		return rateCost
	case TimeWindow:
		return timeWindow
	case CustomField:
		return customField
	case FullReplace:
		return fullReplace
	case Booking:
		return booking
	default:
		return nil
	}
}

func statusOnly(_ *Synthesizer, r *rand.Rand, id string, _ uint64) Shift {
	return Shift{ID: id, Status: statuses[r.IntN(len(statuses))]}
}

func rateCost(_ *Synthesizer, r *rand.Rand, id string, _ uint64) Shift {
	return Shift{
		ID:   id,
		Rate: intPtr(randRate(r)),
		Cost: intPtr(randCost(r)),
	}
}

func timeWindow(_ *Synthesizer, r *rand.Rand, id string, _ uint64) Shift {
	p := r.IntN(len(Patterns))
	return Shift{
		ID:        id,
		StartTime: Patterns[p].Start,
		EndTime:   Patterns[p].End,
		Tags:      []ShiftTag{{Name: tagNames[p]}},
	}
}

func customField(s *Synthesizer, r *rand.Rand, id string, variation uint64) Shift {
	p := r.IntN(len(Patterns))
	return Shift{
		ID:        id,
		StartTime: Patterns[p].Start,
		EndTime:   Patterns[p].End,
		CustomFields: []CustomFieldValue{{
			FieldID: s.cfg.CustomFieldID,
			Value:   fmt.Sprintf("Updated Value %d", variation),
		}},
	}
}

func fullReplace(s *Synthesizer, r *rand.Rand, id string, _ uint64) Shift {
	p := r.IntN(len(Patterns))
	return Shift{
		ID:        id,
		StartTime: Patterns[p].Start,
		EndTime:   Patterns[p].End,
		JobID:     s.cfg.JobID,
		Status:    "available",
		Rate:      intPtr(randRate(r)),
		Cost:      intPtr(randCost(r)),
		Tags:      []ShiftTag{{Name: tagNames[p]}},
	}
}

func booking(s *Synthesizer, _ *rand.Rand, id string, _ uint64) Shift {
	return Shift{ID: id, BookCandidateID: s.cfg.BookCandidateID}
}

// create builds a new shift. The variation is the global create index: four
// shifts per day starting at the base date, cycling through the patterns.
func create(s *Synthesizer, r *rand.Rand, variation uint64) Shift {
	p := int(variation % uint64(len(Patterns)))
	day := s.cfg.BaseDate.AddDate(0, 0, int(variation/uint64(len(Patterns))))

	shift := Shift{
		Date:      day.Format("2006-01-02"),
		StartTime: Patterns[p].Start,
		EndTime:   Patterns[p].End,
		Rate:      intPtr(randRate(r)),
		JobID:     s.cfg.JobID,
		Status:    "available",
		BreakTime: intPtr(createBreakTime),
		BreakPaid: boolPtr(variation%2 == 0),
		Cost:      intPtr(createCost),
		Tags:      []ShiftTag{{Name: tagNames[p]}},
	}
	shift.Metadata.Location = locations[p]

	if s.cfg.CustomFieldID != "" {
		shift.CustomFields = []CustomFieldValue{{
			FieldID: s.cfg.CustomFieldID,
			Value:   fmt.Sprintf("Shift %d", variation+1),
		}}
	}
	return shift
}

func randRate(r *rand.Rand) int {
	return MinRate + r.IntN(MaxRate-MinRate)
}

func randCost(r *rand.Rand) int {
	return MinCost + r.IntN(MaxCost-MinCost)
}
