package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaThreats = `
CREATE TABLE IF NOT EXISTS threats (
    id TEXT PRIMARY KEY,
    content_type TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    severity TEXT NOT NULL,
    primary_category TEXT NOT NULL,
    item TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threats_created ON threats(created_at);
CREATE INDEX IF NOT EXISTS idx_threats_fingerprint ON threats(fingerprint);
CREATE INDEX IF NOT EXISTS idx_threats_severity ON threats(severity);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    threat_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    suggested_actions TEXT NOT NULL,
    assigned_to TEXT,
    resolved_by TEXT,
    resolved_at TIMESTAMP,
    reason_tag TEXT,
    matched_rules TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    conditions TEXT NOT NULL,
    condition_logic TEXT NOT NULL,
    actions TEXT NOT NULL,
    expression TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    triggered_count INTEGER NOT NULL DEFAULT 0,
    last_triggered TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(is_active);
`

// schemaHealingActions is the append-only healing log.
const schemaHealingActions = `
CREATE TABLE IF NOT EXISTS healing_actions (
    id TEXT PRIMARY KEY,
    logged_at TIMESTAMP NOT NULL,
    action TEXT NOT NULL,
    target TEXT NOT NULL,
    severity TEXT NOT NULL,
    result TEXT NOT NULL,
    success INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_healing_actions_logged ON healing_actions(logged_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaThreats,
		schemaAlerts,
		schemaRules,
		schemaHealingActions,
	}
}
