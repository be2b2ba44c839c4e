package sqlite

// migrations is an ordered list of SQL migration groups. Each entry is a
// slice of statements executed together in one transaction. The version
// number is the 1-based index into this slice.
var migrations = [][]string{
	// Migration 1: core tables
	{
		`CREATE TABLE leads (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			organization_id TEXT,
			external_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			lifecycle_stage TEXT NOT NULL DEFAULT '',
			total_score INTEGER NOT NULL DEFAULT 0,
			fit_score INTEGER NOT NULL DEFAULT 0,
			engagement_score INTEGER NOT NULL DEFAULT 0,
			intent_score INTEGER NOT NULL DEFAULT 0,
			primary_intent TEXT NOT NULL DEFAULT '',
			intent_confidence INTEGER NOT NULL DEFAULT 0,
			intent_summary TEXT NOT NULL DEFAULT '{}',
			routing_status TEXT NOT NULL DEFAULT 'unrouted',
			pipeline_id TEXT NOT NULL DEFAULT '',
			routed_at TEXT,
			first_touch_source TEXT NOT NULL DEFAULT '',
			first_touch_campaign TEXT NOT NULL DEFAULT '',
			first_touch_at TEXT,
			last_touch_source TEXT NOT NULL DEFAULT '',
			last_touch_campaign TEXT NOT NULL DEFAULT '',
			last_touch_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX idx_leads_routing ON leads(routing_status, created_at)`,

		`CREATE TABLE organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			domain TEXT NOT NULL DEFAULT '',
			industry TEXT NOT NULL DEFAULT '',
			size_band TEXT NOT NULL DEFAULT '',
			fields TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE intent_signals (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL REFERENCES leads(id),
			intent TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			confidence_points INTEGER NOT NULL,
			trigger_type TEXT NOT NULL,
			event_id TEXT NOT NULL DEFAULT '',
			trigger_data TEXT NOT NULL DEFAULT '{}',
			detected_at TEXT NOT NULL,
			UNIQUE (lead_id, rule_id)
		)`,
		`CREATE INDEX idx_signals_lead ON intent_signals(lead_id)`,

		`CREATE TABLE pipelines (
			id TEXT PRIMARY KEY,
			slug TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE pipeline_stages (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL REFERENCES pipelines(id),
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			position INTEGER NOT NULL,
			automation_config TEXT NOT NULL DEFAULT '[]',
			UNIQUE (pipeline_id, slug)
		)`,

		`CREATE TABLE deals (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL REFERENCES leads(id),
			pipeline_id TEXT NOT NULL REFERENCES pipelines(id),
			stage_id TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'open',
			value REAL NOT NULL DEFAULT 0,
			assigned_to TEXT NOT NULL DEFAULT '',
			assigned_at TEXT,
			stage_entered_at TEXT NOT NULL,
			closed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (lead_id, pipeline_id)
		)`,
		`CREATE INDEX idx_deals_stage ON deals(stage_id, status)`,

		`CREATE TABLE team_members (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			region TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			current_leads INTEGER NOT NULL DEFAULT 0,
			max_leads INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE intent_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			intent TEXT NOT NULL,
			confidence_points INTEGER NOT NULL,
			trigger_kind TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			condition TEXT NOT NULL DEFAULT '{}',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE automation_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			trigger_config TEXT NOT NULL DEFAULT '{}',
			action_config TEXT NOT NULL DEFAULT '{}',
			priority INTEGER NOT NULL DEFAULT 100,
			is_active INTEGER NOT NULL DEFAULT 1,
			execution_count INTEGER NOT NULL DEFAULT 0,
			last_executed TEXT,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE automation_log (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			lead_id TEXT NOT NULL DEFAULT '',
			deal_id TEXT NOT NULL DEFAULT '',
			action_kind TEXT NOT NULL,
			success INTEGER NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			executed_at TEXT NOT NULL
		)`,
		`CREATE INDEX idx_automation_log_lookup ON automation_log(lead_id, rule_id, success)`,

		`CREATE TABLE tasks (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL DEFAULT '',
			deal_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			assigned_to TEXT NOT NULL DEFAULT '',
			due_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE sequence_enrollments (
			id TEXT PRIMARY KEY,
			deal_id TEXT NOT NULL,
			stage_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX idx_enrollments_deal ON sequence_enrollments(deal_id, stage_id, status)`,
	},
}
