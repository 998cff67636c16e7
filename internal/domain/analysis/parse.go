// internal/domain/analysis/parse.go

package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

type diagnosisPayload struct {
	IsHealthy   *bool       `json:"is_healthy"`
	PlantName   string      `json:"plant_name"`
	DiseaseName string      `json:"disease_name"`
	Confidence  float64     `json:"confidence"`
	Severity    string      `json:"severity"`
	Description string      `json:"description"`
	Symptoms    []string    `json:"symptoms"`
	Causes      []string    `json:"causes"`
	Treatments  []Treatment `json:"treatments"`
	Prevention  []string    `json:"prevention"`
}

type harvestPayload struct {
	Grade           string   `json:"grade"`
	CropName        string   `json:"crop_name"`
	QualityScore    float64  `json:"quality_score"`
	Defects         []string `json:"defects"`
	Recommendations []string `json:"recommendations"`
	EstimatedPrice  string   `json:"estimated_price"`
	StorageAdvice   string   `json:"storage_advice"`
}

// Parse maps a remote payload onto the variant for kind
func Parse(kind Kind, raw json.RawMessage) (*Result, error) {
	res := &Result{Kind: kind, Raw: raw}

	switch kind {
	case KindDiagnosis:
		d, err := ParseDiagnosis(raw)
		if err != nil {
			return nil, err
		}
		res.Diagnosis = d
	case KindHarvest:
		h, err := ParseHarvest(raw)
		if err != nil {
			return nil, err
		}
		res.Harvest = h
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrUnexpectedResponseFormat, kind)
	}

	return res, nil
}

// ParseDiagnosis requires an is_healthy flag. A diseased verdict also
// requires a disease name.
func ParseDiagnosis(raw json.RawMessage) (*PlantDiagnosis, error) {
	var p diagnosisPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponseFormat, err)
	}
	if p.IsHealthy == nil {
		return nil, fmt.Errorf("%w: missing is_healthy", ErrUnexpectedResponseFormat)
	}

	d := &PlantDiagnosis{
		Verdict:     VerdictHealthy,
		PlantName:   p.PlantName,
		DiseaseName: p.DiseaseName,
		Confidence:  p.Confidence,
		Severity:    p.Severity,
		Description: p.Description,
		Symptoms:    p.Symptoms,
		Causes:      p.Causes,
		Treatments:  p.Treatments,
		Prevention:  p.Prevention,
	}
	if !*p.IsHealthy {
		if strings.TrimSpace(p.DiseaseName) == "" {
			return nil, fmt.Errorf("%w: diseased verdict without disease_name", ErrUnexpectedResponseFormat)
		}
		d.Verdict = VerdictDiseased
	}
	return d, nil
}

// ParseHarvest requires a grade
func ParseHarvest(raw json.RawMessage) (*HarvestAssessment, error) {
	var p harvestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponseFormat, err)
	}
	if strings.TrimSpace(p.Grade) == "" {
		return nil, fmt.Errorf("%w: missing grade", ErrUnexpectedResponseFormat)
	}
	return &HarvestAssessment{
		Grade:           p.Grade,
		CropName:        p.CropName,
		QualityScore:    p.QualityScore,
		Defects:         p.Defects,
		Recommendations: p.Recommendations,
		EstimatedPrice:  p.EstimatedPrice,
		StorageAdvice:   p.StorageAdvice,
	}, nil
}
