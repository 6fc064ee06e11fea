package domain

import "time"

// HealingAction is one immutable entry of the healing log.
type HealingAction struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Action   string    `json:"action"`
	Target   string    `json:"target"`
	Severity Severity  `json:"severity"`
	Result   string    `json:"result"`
	Success  bool      `json:"success"`
}

// FirewallRule is a synthesized block rule.
type FirewallRule struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ActionResult is the outcome of one remediation step.
type ActionResult struct {
	Step    int    `json:"step,omitempty"`
	Action  string `json:"action"`
	Target  string `json:"target"`
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

// Notification is published when an administrator should be told about a detection.
type Notification struct {
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	AlertID   string    `json:"alertId,omitempty"`
	ThreatID  string    `json:"threatId,omitempty"`
	Severity  Severity  `json:"severity"`
	At        time.Time `json:"at"`
}
