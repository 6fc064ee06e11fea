package alerts

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var severitySuggestions = map[domain.Severity][]string{
	domain.SeverityCritical: {"Isolate affected systems", "Block the submitting source"},
	domain.SeverityHigh:     {"Block the submitting source", "Review related activity from this source"},
	domain.SeverityMedium:   {"Review the content manually"},
	domain.SeverityLow:      {"Monitor for recurrence"},
}

var categorySuggestions = map[string]string{
	"Pirated Software":      "Quarantine the file",
	"Malware Risk":          "Run a full malware scan on the receiving device",
	"High-Risk File Type":   "Open only in a sandbox",
	"Double Extension":      "Quarantine the file",
	"Financial Scam":        "Warn the recipient about payment fraud",
	"Payment Fraud":         "Warn the recipient about payment fraud",
	"Unverified Payee":      "Confirm the payee through another channel",
	"Phishing Risk":         "Block the link at the gateway",
	"Conspiracy Theory":     "Flag the content for fact-check review",
	"Health Misinformation": "Flag the content for fact-check review",
	"Political Claim":       "Add context before the content spreads",
}

var actionSuggestions = map[domain.ActionType]string{
	domain.ActionBlockContent: "Keep the content blocked until reviewed",
	domain.ActionLockUser:     "Review the suspended account",
	domain.ActionEscalate:     "Assign an analyst",
	domain.ActionNotifyAdmin:  "Confirm the administrator has been notified",
}

// SuggestActions derives operator suggestions from severity, categories and
// rule actions. The result is never empty.
func SuggestActions(severity domain.Severity, categories []string, actions []domain.Action) []string {
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		for _, x := range out {
			if x == s {
				return
			}
		}
		out = append(out, s)
	}

	for _, s := range severitySuggestions[severity] {
		add(s)
	}
	for _, c := range categories {
		add(categorySuggestions[c])
	}
	for _, a := range actions {
		add(actionSuggestions[a.Type])
	}
	if len(out) == 0 {
		add("Monitor for recurrence")
	}
	return out
}

func title(severity domain.Severity, item *domain.ScoredItem) string {
	sev := string(severity)
	if sev != "" {
		sev = strings.ToUpper(sev[:1]) + sev[1:]
	}
	return fmt.Sprintf("%s: %s in %s content", sev, item.PrimaryCategory(), item.ContentType)
}

func description(item *domain.ScoredItem) string {
	d := fmt.Sprintf("risk score %d, confidence %d", item.RiskScore, item.Confidence)
	if item.Explanation.Reason != "" {
		d = item.Explanation.Reason + " (" + d + ")"
	}
	if item.Explanation.BehavioralRisk != "" {
		d += "; " + item.Explanation.BehavioralRisk
	}
	return d
}
