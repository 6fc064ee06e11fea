package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BuiltinRules returns the starter rule set installed on an empty store.
func BuiltinRules() []domain.Rule {
	return []domain.Rule{
		{
			ID:             "builtin-critical-risk",
			Name:           "Critical risk score",
			Description:    "Escalate anything scoring above 75",
			ConditionLogic: domain.LogicAnd,
			Conditions: []domain.Condition{
				{Field: domain.FieldRiskScore, Operator: domain.OpGreaterThan, Value: 75},
			},
			Actions:  []domain.Action{{Type: domain.ActionEscalate}, {Type: domain.ActionNotifyAdmin}},
			IsActive: true,
		},
		{
			ID:             "builtin-pirated-software",
			Name:           "Pirated or trojanized software",
			Description:    "Block downloads flagged as pirated software or malware",
			ConditionLogic: domain.LogicOr,
			Conditions: []domain.Condition{
				{Field: domain.FieldCategory, Operator: domain.OpEquals, Value: "Pirated Software"},
				{Field: domain.FieldCategory, Operator: domain.OpEquals, Value: "Malware Risk"},
			},
			Actions:  []domain.Action{{Type: domain.ActionBlockContent}, {Type: domain.ActionMarkCritical}},
			IsActive: true,
		},
		{
			ID:             "builtin-financial-scam",
			Name:           "Financial scam wording",
			Description:    "Notify an administrator about likely financial scams",
			ConditionLogic: domain.LogicAnd,
			Conditions: []domain.Condition{
				{Field: domain.FieldCategory, Operator: domain.OpEquals, Value: "Financial Scam"},
				{Field: domain.FieldRiskScore, Operator: domain.OpGreaterThan, Value: 55},
			},
			Actions:  []domain.Action{{Type: domain.ActionNotifyAdmin}, {Type: domain.ActionEscalate}},
			IsActive: true,
		},
		{
			ID:             "builtin-suspicious-tld",
			Name:           "Link on an abused TLD",
			Description:    "Block links on top-level domains commonly used for phishing",
			ConditionLogic: domain.LogicAnd,
			Conditions: []domain.Condition{
				{Field: domain.FieldURL, Operator: domain.OpMatches, Value: `^https?://[^/]+\.(tk|ml|ga|cf|gq|xyz|top|zip|click|work)(/|$)`},
			},
			Actions:  []domain.Action{{Type: domain.ActionBlockContent}},
			IsActive: true,
		},
	}
}

// SeedBuiltins creates the builtin rules when the engine has none loaded.
func (e *Engine) SeedBuiltins(ctx context.Context) (int, error) {
	if e.RulesCount() > 0 {
		return 0, nil
	}
	for _, r := range BuiltinRules() {
		if _, err := e.Create(ctx, r); err != nil {
			return 0, fmt.Errorf("failed to seed rule %s: %w", r.ID, err)
		}
	}
	n := e.RulesCount()
	slog.Info("seeded builtin rules", "count", n)
	return n, nil
}
