package domain

import "time"

// Rule is an operator-defined detection rule evaluated against scored items.
type Rule struct {
	ID             string         `json:"id"`
	Name           string         `json:"name" validate:"required,max=200"`
	Description    string         `json:"description,omitempty"`
	Conditions     []Condition    `json:"conditions" validate:"required,min=1,dive"`
	ConditionLogic ConditionLogic `json:"conditionLogic" validate:"required,oneof=AND OR"`
	Actions        []Action       `json:"actions" validate:"dive"`

	// Expression is an optional CEL guard that must also hold for the rule to match.
	Expression string `json:"expression,omitempty"`

	IsActive       bool       `json:"isActive"`
	TriggeredCount int64      `json:"triggeredCount"`
	LastTriggered  *time.Time `json:"lastTriggered,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Condition compares one field of a scored item against a value.
type Condition struct {
	Field    ConditionField `json:"field" validate:"required,oneof=text url riskScore category"`
	Operator Operator       `json:"operator" validate:"required,oneof=contains matches greaterThan lessThan equals"`
	Value    any            `json:"value"`
}

// ConditionField names the item attribute a condition reads.
type ConditionField string

const (
	FieldText      ConditionField = "text"
	FieldURL       ConditionField = "url"
	FieldRiskScore ConditionField = "riskScore"
	FieldCategory  ConditionField = "category"
)

// Operator is a condition comparison.
type Operator string

const (
	OpContains    Operator = "contains"
	OpMatches     Operator = "matches"
	OpGreaterThan Operator = "greaterThan"
	OpLessThan    Operator = "lessThan"
	OpEquals      Operator = "equals"
)

// ConditionLogic combines condition outcomes.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

// ActionType is a follow-up requested by a matched rule.
type ActionType string

const (
	ActionMarkCritical ActionType = "markCritical"
	ActionNotifyAdmin  ActionType = "notifyAdmin"
	ActionBlockContent ActionType = "blockContent"
	ActionEscalate     ActionType = "escalate"
	ActionLockUser     ActionType = "lockUser"
)

// Action is a rule action.
type Action struct {
	Type ActionType `json:"type" validate:"required,oneof=markCritical notifyAdmin blockContent escalate lockUser"`
}

// HasAction reports whether actions contains the given type.
func HasAction(actions []Action, t ActionType) bool {
	for _, a := range actions {
		if a.Type == t {
			return true
		}
	}
	return false
}

// RuleTrigger records a rule match for persistence.
type RuleTrigger struct {
	RuleID         string    `json:"ruleId"`
	TriggeredCount int64     `json:"triggeredCount"`
	LastTriggered  time.Time `json:"lastTriggered"`
}
