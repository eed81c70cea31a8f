package reports

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Status is the implementation verdict for one requirement.
type Status string

const (
	StatusImplemented    Status = "implemented"
	StatusNotImplemented Status = "not_implemented"
	StatusUnknown        Status = "unknown"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusImplemented, StatusNotImplemented, StatusUnknown:
		return true
	default:
		return false
	}
}

// Report is the compatibility report written by the analysis engine.
type Report struct {
	Statistics   Statistics    `json:"statistics" yaml:"statistics"`
	Requirements []Requirement `json:"requirements" yaml:"requirements"`
}

// Statistics are the aggregate counts of a report.
type Statistics struct {
	TotalRequirements   int     `json:"total_requirements" yaml:"total_requirements"`
	ImplementedCount    int     `json:"implemented_count" yaml:"implemented_count"`
	MissingRequirements int     `json:"missing_requirements" yaml:"missing_requirements"`
	UnknownRequirements int     `json:"unknown_requirements" yaml:"unknown_requirements"`
	CoveragePercentage  float64 `json:"coverage_percentage" yaml:"coverage_percentage"`
}

// Requirement is one entry of the report.
type Requirement struct {
	Requirement           string `json:"requirement" yaml:"requirement"`
	Status                Status `json:"status" yaml:"status"`
	ImplementationDetails string `json:"implementation_details" yaml:"implementation_details"`
}

type statisticsWire struct {
	TotalRequirements       json.Number `json:"total_requirements"`
	ImplementedCount        json.Number `json:"implemented_count"`
	ImplementedRequirements json.Number `json:"implemented_requirements"`
	MissingRequirements     json.Number `json:"missing_requirements"`
	UnknownRequirements     json.Number `json:"unknown_requirements"`
	CoveragePercentage      json.Number `json:"coverage_percentage"`
}

// UnmarshalJSON accepts both implemented_count and implemented_requirements,
// and integral counts written as floats.
func (s *Statistics) UnmarshalJSON(data []byte) error {
	var w statisticsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var err error
	if s.TotalRequirements, err = countField("total_requirements", w.TotalRequirements); err != nil {
		return err
	}
	implemented := w.ImplementedCount
	if implemented == "" {
		implemented = w.ImplementedRequirements
	}
	if s.ImplementedCount, err = countField("implemented_count", implemented); err != nil {
		return err
	}
	if s.MissingRequirements, err = countField("missing_requirements", w.MissingRequirements); err != nil {
		return err
	}
	if s.UnknownRequirements, err = countField("unknown_requirements", w.UnknownRequirements); err != nil {
		return err
	}
	if w.CoveragePercentage != "" {
		if s.CoveragePercentage, err = w.CoveragePercentage.Float64(); err != nil {
			return fmt.Errorf("coverage_percentage: %w", err)
		}
	} else {
		s.CoveragePercentage = Coverage(s.ImplementedCount, s.TotalRequirements)
	}
	return nil
}

func countField(name string, n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := strconv.Atoi(n.String()); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("%s: not an integer: %s", name, n)
	}
	return int(f), nil
}

type reportWire struct {
	Statistics   *Statistics   `json:"statistics"`
	Requirements []Requirement `json:"requirements"`
}

// UnmarshalJSON derives statistics from the entries when the engine omitted
// them. A document with neither key, or an entry with a status outside the
// enum, is rejected.
func (r *Report) UnmarshalJSON(data []byte) error {
	var w reportWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Statistics == nil && w.Requirements == nil {
		return errors.New("neither statistics nor requirements present")
	}
	for i, req := range w.Requirements {
		if !req.Status.Valid() {
			return fmt.Errorf("requirements[%d]: invalid status %q", i, req.Status)
		}
	}
	r.Requirements = w.Requirements
	if r.Requirements == nil {
		r.Requirements = []Requirement{}
	}
	if w.Statistics != nil {
		r.Statistics = *w.Statistics
	} else {
		r.Statistics = Summarize(r.Requirements)
	}
	return nil
}

// Summarize computes statistics from report entries.
func Summarize(reqs []Requirement) Statistics {
	var st Statistics
	st.TotalRequirements = len(reqs)
	for _, r := range reqs {
		switch r.Status {
		case StatusImplemented:
			st.ImplementedCount++
		case StatusNotImplemented:
			st.MissingRequirements++
		default:
			st.UnknownRequirements++
		}
	}
	st.CoveragePercentage = Coverage(st.ImplementedCount, st.TotalRequirements)
	return st
}

// Coverage returns implemented/total as a percentage rounded to two decimals.
func Coverage(implemented, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(implemented) / float64(total) * 100
	return math.Round(pct*100) / 100
}
