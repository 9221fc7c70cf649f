package payload

import (
	"time"

	"github.com/google/uuid"
)

// Shift is the request representation of one shift in a batch body.
// Update bodies carry only the fields their template touches.
type Shift struct {
	ID              string        `json:"id,omitempty"`
	Date            string        `json:"date,omitempty"`
	StartTime       string        `json:"startTime,omitempty"`
	EndTime         string        `json:"endTime,omitempty"`
	JobID           string        `json:"jobId,omitempty"`
	Status          string        `json:"status,omitempty"`
	Rate            *int          `json:"rate,omitempty"`
	Cost            *int          `json:"cost,omitempty"`
	BreakTime       *int          `json:"breakTime,omitempty"`
	BreakPaid       *bool         `json:"breakPaid,omitempty"`
	BookCandidateID string        `json:"bookCandidateId,omitempty"`
	Tags            []ShiftTag    `json:"tags,omitempty"`
	CustomFields    []CustomFieldValue `json:"customFields,omitempty"`
	Metadata        Metadata      `json:"metadata"`
}

// ShiftTag is a named label attached to a shift.
type ShiftTag struct {
	Name string `json:"name"`
}

// CustomFieldValue sets a tenant-defined field value.
type CustomFieldValue struct {
	FieldID string `json:"fieldId"`
	Value   string `json:"value"`
}

// Metadata is the free-form metadata object. It carries the correlation tag.
type Metadata struct {
	Source      string     `json:"source"`
	BatchID     string     `json:"batchId"`
	OwnerID     int        `json:"ownerId"`
	Batch       int        `json:"batch"`
	GeneratedAt string     `json:"generatedAt"`
	UpdateType  TemplateID `json:"updateType"`
	Location    string     `json:"location,omitempty"`
}

// Correlation ties generated items back to the owner and batch that sent them.
type Correlation struct {
	BatchID     string
	OwnerID     int
	Batch       int
	GeneratedAt time.Time
}

// NewCorrelation creates a correlation tag with a fresh batch id.
func NewCorrelation(owner, batch int) Correlation {
	return Correlation{
		BatchID:     uuid.NewString(),
		OwnerID:     owner,
		Batch:       batch,
		GeneratedAt: time.Now().UTC(),
	}
}

// Item is one generated unit of work: the target identifier (empty for
// creates), the template that produced it and the body.
type Item struct {
	TargetID string
	Template TemplateID
	Shift    Shift
}

func intPtr(v int) *int {
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}
