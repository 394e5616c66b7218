package store

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	repo_path TEXT NOT NULL,
	branch TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	attempt INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	notify_chat TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT 'sweborg',
	backend TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS proposals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_path TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	rationale TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'proposed',
	created_at TEXT NOT NULL,
	triage_score INTEGER NOT NULL DEFAULT 0,
	triage_impact INTEGER NOT NULL DEFAULT 0,
	triage_feasibility INTEGER NOT NULL DEFAULT 0,
	triage_risk INTEGER NOT NULL DEFAULT 0,
	triage_effort INTEGER NOT NULL DEFAULT 0,
	triage_reasoning TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS integration_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id INTEGER NOT NULL,
	branch TEXT NOT NULL,
	repo_path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	queued_at TEXT NOT NULL,
	pr_number INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS task_outputs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id INTEGER NOT NULL,
	phase TEXT NOT NULL,
	success INTEGER NOT NULL DEFAULT 0,
	output TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS task_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	delivered INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS repos (
	path TEXT PRIMARY KEY,
	test_cmd TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT 'sweborg',
	is_self INTEGER NOT NULL DEFAULT 0,
	auto_merge INTEGER NOT NULL DEFAULT 0,
	lint_cmd TEXT NOT NULL DEFAULT '',
	backend TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS pipeline_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	task_id INTEGER,
	message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL,
	transport TEXT NOT NULL,
	content TEXT NOT NULL,
	received_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_repo_status ON tasks(repo_path, status);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_queue_status ON integration_queue(status);
CREATE INDEX IF NOT EXISTS idx_task_outputs_task ON task_outputs(task_id, created_at);
CREATE INDEX IF NOT EXISTS idx_task_messages_task_delivered ON task_messages(task_id, delivered);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_task ON pipeline_events(task_id, created_at);
`

// migrations holds additive schema changes for databases created by older
// daemon versions. Each statement is attempted unconditionally at open
// time; the "duplicate column" error SQLite returns when it's already
// applied is swallowed in runMigrations, avoiding a separate
// migration-version table. Empty for now: no columns have been added
// since the initial schema above.
var migrations []string
