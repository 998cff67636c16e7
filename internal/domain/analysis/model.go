// internal/domain/analysis/model.go

package analysis

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

// Error taxonomy for remote analysis
var (
	ErrNetwork                  = errors.New("network error")
	ErrTransientServer          = errors.New("service temporarily unavailable")
	ErrUnexpectedResponseFormat = errors.New("unexpected response format")
	ErrNothingToRetry           = errors.New("no previous capture to retry")
)

// Kind is the type of analysis requested
type Kind string

const (
	KindDiagnosis Kind = "diagnosis"
	KindHarvest   Kind = "harvest"
)

// Function returns the remote function serving this kind
func (k Kind) Function() string {
	if k == KindHarvest {
		return "analyze-harvest"
	}
	return "analyze-plant"
}

// Phase is a stage of the capture flow
type Phase string

const (
	PhaseCapture     Phase = "capture"
	PhaseCompressing Phase = "compressing"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseResult      Phase = "result"
)

// Request is one capture submitted for analysis
type Request struct {
	Image    []byte        `json:"-"`
	Language string        `json:"language"`
	Position *geo.Position `json:"position,omitempty"`
	Crop     string        `json:"crop,omitempty"`
	UserID   string        `json:"userId,omitempty"`
}

// Verdict discriminates plant diagnoses
type Verdict string

const (
	VerdictHealthy  Verdict = "healthy"
	VerdictDiseased Verdict = "diseased"
)

// Treatment is one remedy suggested for a disease
type Treatment struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Instructions string `json:"instructions,omitempty"`
	Cost         string `json:"cost,omitempty"`
}

// PlantDiagnosis is the outcome of a plant photo analysis
type PlantDiagnosis struct {
	Verdict     Verdict     `json:"verdict"`
	PlantName   string      `json:"plantName,omitempty"`
	DiseaseName string      `json:"diseaseName,omitempty"`
	Confidence  float64     `json:"confidence"`
	Severity    string      `json:"severity,omitempty"`
	Description string      `json:"description,omitempty"`
	Symptoms    []string    `json:"symptoms,omitempty"`
	Causes      []string    `json:"causes,omitempty"`
	Treatments  []Treatment `json:"treatments,omitempty"`
	Prevention  []string    `json:"prevention,omitempty"`
}

// HarvestAssessment is the outcome of a harvest quality grading
type HarvestAssessment struct {
	Grade           string   `json:"grade"`
	CropName        string   `json:"cropName,omitempty"`
	QualityScore    float64  `json:"qualityScore"`
	Defects         []string `json:"defects,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	EstimatedPrice  string   `json:"estimatedPrice,omitempty"`
	StorageAdvice   string   `json:"storageAdvice,omitempty"`
}

// Result is a tagged analysis outcome. Exactly one of Diagnosis and Harvest
// is set, matching Kind. Raw keeps the remote payload as received.
type Result struct {
	ID        string             `json:"id"`
	Kind      Kind               `json:"kind"`
	Diagnosis *PlantDiagnosis    `json:"diagnosis,omitempty"`
	Harvest   *HarvestAssessment `json:"harvest,omitempty"`
	Location  *geo.LocationInfo  `json:"location,omitempty"`
	Attempts  int                `json:"attempts"`
	Raw       json.RawMessage    `json:"raw"`
}

// Summary is a one-line description used in history listings
func (r *Result) Summary() string {
	switch {
	case r.Diagnosis != nil && r.Diagnosis.Verdict == VerdictHealthy:
		return "healthy"
	case r.Diagnosis != nil:
		return r.Diagnosis.DiseaseName
	case r.Harvest != nil:
		return "grade " + r.Harvest.Grade
	default:
		return ""
	}
}

// Activity is a persisted history entry
type Activity struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Kind      Kind            `json:"kind"`
	Summary   string          `json:"summary"`
	Language  string          `json:"language"`
	Position  *geo.Position   `json:"position,omitempty"`
	Region    string          `json:"region,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}
