package domain

import "time"

// AlertStatus is a state of the alert lifecycle.
type AlertStatus string

const (
	AlertOpen      AlertStatus = "open"
	AlertEscalated AlertStatus = "escalated"
	AlertDismissed AlertStatus = "dismissed"
	AlertResolved  AlertStatus = "resolved"
)

// Terminal reports whether no further transitions are allowed.
func (s AlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertDismissed
}

// Alert tracks a detection that requires a response.
type Alert struct {
	ID               string      `json:"id"`
	ThreatID         string      `json:"threatId"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	Severity         Severity    `json:"severity"`
	Status           AlertStatus `json:"status"`
	SuggestedActions []string    `json:"suggestedActions"`
	AssignedTo       string      `json:"assignedTo,omitempty"`
	ResolvedBy       string      `json:"resolvedBy,omitempty"`
	ResolvedAt       *time.Time  `json:"resolvedAt,omitempty"`
	ReasonTag        string      `json:"reasonTag,omitempty"`
	MatchedRules     []string    `json:"matchedRules,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// Clone returns a copy safe to hand to callers.
func (a *Alert) Clone() *Alert {
	out := *a
	out.SuggestedActions = append([]string(nil), a.SuggestedActions...)
	out.MatchedRules = append([]string(nil), a.MatchedRules...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// AlertEvent is emitted for every alert creation and transition.
type AlertEvent struct {
	AlertID   string      `json:"alertId"`
	From      AlertStatus `json:"from,omitempty"`
	To        AlertStatus `json:"to"`
	Action    string      `json:"action"`
	Actor     string      `json:"actor"`
	ReasonTag string      `json:"reasonTag,omitempty"`
	At        time.Time   `json:"at"`
}
