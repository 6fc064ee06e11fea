package domain

import "time"

// Severity is the tier derived from a risk score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFromScore maps a 0-100 risk score to its tier.
func SeverityFromScore(score int) Severity {
	switch {
	case score > 75:
		return SeverityCritical
	case score > 55:
		return SeverityHigh
	case score > 35:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Rank orders severities from low (0) to critical (3). Unknown values rank -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Scoring engines
const (
	EngineHeuristic = "heuristic"
	EngineAssessor  = "assessor"
)

// Verdicts shared by the scoring heuristics.
const (
	VerdictSafe             = "safe"
	VerdictCaution          = "caution"
	VerdictDangerous        = "dangerous"
	VerdictClean            = "clean"
	VerdictSuspicious       = "suspicious"
	VerdictMalicious        = "malicious"
	VerdictTrue             = "true"
	VerdictFalse            = "false"
	VerdictMisleading       = "misleading"
	VerdictUnverified       = "unverified"
	VerdictInsufficientData = "insufficient_data"
)

// CategoryClean is the default category when no heuristic fired.
const CategoryClean = "Clean"

// ScoredItem is the immutable result of scoring one scan request.
type ScoredItem struct {
	ContentType    ContentType       `json:"contentType"`
	Content        string            `json:"content"`
	ContentRef     string            `json:"contentRef,omitempty"`
	Fingerprint    string            `json:"fingerprint"`
	RawFields      map[string]string `json:"rawFields,omitempty"`
	RiskScore      int               `json:"riskScore"`
	Categories     []string          `json:"categories"`
	Confidence     int               `json:"confidence"`
	Severity       Severity          `json:"severity"`
	Verdict        string            `json:"verdict"`
	Recommendation string            `json:"recommendation,omitempty"`
	Explanation    Explanation       `json:"explanation"`
	PaymentDetails *PaymentDetails   `json:"paymentDetails,omitempty"`
	RedFlags       []string          `json:"redFlags,omitempty"`
	Source         *Source           `json:"source,omitempty"`
	Engine         string            `json:"engine"`
	ScoredAt       time.Time         `json:"scoredAt"`
}

// Explanation records why a score was produced.
type Explanation struct {
	Reason         string   `json:"reason"`
	Keywords       []string `json:"keywords"`
	Pattern        string   `json:"pattern"`
	BehavioralRisk string   `json:"behavioralRisk"`
}

// PaymentDetails are the parameters extracted from a UPI payment request.
type PaymentDetails struct {
	Payee     string `json:"payee"`
	PayeeName string `json:"payeeName,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Note      string `json:"note,omitempty"`
}

// PrimaryCategory returns the first category, or Clean when empty.
func (s *ScoredItem) PrimaryCategory() string {
	if len(s.Categories) == 0 {
		return CategoryClean
	}
	return s.Categories[0]
}

// HasCategory reports whether the item carries the given category.
func (s *ScoredItem) HasCategory(category string) bool {
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// URL returns the URL the item refers to, if any.
func (s *ScoredItem) URL() string {
	if s.ContentType == ContentURL {
		return s.Content
	}
	return s.RawFields["url"]
}

// Clone returns a deep copy so callers cannot mutate shared slices or maps.
func (s ScoredItem) Clone() ScoredItem {
	out := s
	out.Categories = append([]string(nil), s.Categories...)
	out.RedFlags = append([]string(nil), s.RedFlags...)
	out.Explanation.Keywords = append([]string(nil), s.Explanation.Keywords...)
	if s.RawFields != nil {
		out.RawFields = make(map[string]string, len(s.RawFields))
		for k, v := range s.RawFields {
			out.RawFields[k] = v
		}
	}
	if s.PaymentDetails != nil {
		pd := *s.PaymentDetails
		out.PaymentDetails = &pd
	}
	if s.Source != nil {
		src := *s.Source
		out.Source = &src
	}
	return out
}

// Threat is the persisted record of one scan.
type Threat struct {
	ID        string     `json:"id"`
	Item      ScoredItem `json:"item"`
	CreatedAt time.Time  `json:"createdAt"`
}
