// Package insights derives operational estimates from recent threats.
package insights

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Method describes how the estimate is produced. It is reported with every
// estimate so consumers do not mistake it for measured accuracy.
const Method = "heuristic proxy: low-confidence high-severity results count as likely false positives and " +
	"low-confidence low-severity results outside Clean or Verified Fact count as likely false negatives; " +
	"insufficient-data results are reported as unscored and left out of the sample; no ground truth is used"

const lowConfidence = 50

// AccuracyEstimate summarizes how trustworthy recent scores look.
type AccuracyEstimate struct {
	Sample                  int                     `json:"sample"`
	Unscored                int                     `json:"unscored"`
	EstimatedFalsePositives int                     `json:"estimatedFalsePositives"`
	EstimatedFalseNegatives int                     `json:"estimatedFalseNegatives"`
	EstimatedAccuracy       float64                 `json:"estimatedAccuracy"`
	AverageConfidence       float64                 `json:"averageConfidence"`
	BySeverity              map[domain.Severity]int `json:"bySeverity"`
	Method                  string                  `json:"method"`
}

// Estimate computes an AccuracyEstimate over threats. Callers bound the
// window; nil entries are ignored.
func Estimate(threats []*domain.Threat) AccuracyEstimate {
	est := AccuracyEstimate{
		BySeverity: map[domain.Severity]int{
			domain.SeverityLow:      0,
			domain.SeverityMedium:   0,
			domain.SeverityHigh:     0,
			domain.SeverityCritical: 0,
		},
		Method: Method,
	}

	var confidenceSum int
	for _, t := range threats {
		if t == nil {
			continue
		}
		item := &t.Item
		if item.Verdict == domain.VerdictInsufficientData {
			est.Unscored++
			continue
		}
		est.Sample++
		confidenceSum += item.Confidence
		est.BySeverity[item.Severity]++

		if item.Confidence >= lowConfidence {
			continue
		}
		switch {
		case item.Severity.AtLeast(domain.SeverityHigh):
			est.EstimatedFalsePositives++
		case !benign(item.PrimaryCategory()):
			est.EstimatedFalseNegatives++
		}
	}

	if est.Sample == 0 {
		est.EstimatedAccuracy = 1
		return est
	}
	est.AverageConfidence = float64(confidenceSum) / float64(est.Sample)
	errs := est.EstimatedFalsePositives + est.EstimatedFalseNegatives
	est.EstimatedAccuracy = float64(est.Sample-errs) / float64(est.Sample)
	return est
}

func benign(category string) bool {
	return category == domain.CategoryClean || category == "Verified Fact"
}
