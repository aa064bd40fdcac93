package storage

// schemaSQL is portable between Postgres and SQLite.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	publication_id TEXT NOT NULL,
	issue_date TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	workflow_state TEXT NOT NULL DEFAULT 'not_started',
	workflow_module INTEGER NOT NULL DEFAULT 0,
	workflow_error TEXT,
	subject_line TEXT,
	welcome_intro TEXT,
	welcome_tagline TEXT,
	welcome_summary TEXT,
	poll_snapshot TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS issues_open_per_day
	ON issues (publication_id, issue_date) WHERE status <> 'sent';

CREATE TABLE IF NOT EXISTS content_modules (
	id TEXT PRIMARY KEY,
	publication_id TEXT NOT NULL,
	family TEXT NOT NULL,
	name TEXT NOT NULL,
	display_order INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	selection_mode TEXT NOT NULL,
	item_count INTEGER NOT NULL DEFAULT 1,
	selection_buffer INTEGER NOT NULL DEFAULT 0,
	next_position INTEGER NOT NULL DEFAULT 1,
	cursor_version INTEGER NOT NULL DEFAULT 0,
	block_order TEXT
);

CREATE INDEX IF NOT EXISTS content_modules_publication ON content_modules (publication_id, display_order);

CREATE TABLE IF NOT EXISTS criteria (
	module_id TEXT NOT NULL,
	criterion_number INTEGER NOT NULL,
	name TEXT NOT NULL,
	weight DOUBLE PRECISION,
	prompt_key TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (module_id, criterion_number)
);

CREATE TABLE IF NOT EXISTS candidates (
	id TEXT PRIMARY KEY,
	publication_id TEXT NOT NULL,
	family TEXT NOT NULL,
	code TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMP,
	priority INTEGER NOT NULL DEFAULT 0,
	excluded BOOLEAN NOT NULL DEFAULT FALSE,
	module_eligible BOOLEAN NOT NULL DEFAULT FALSE,
	assigned_issue_id TEXT,
	assigned_module_id TEXT,
	suppressed_issue_id TEXT,
	duplicate_of TEXT
);

CREATE INDEX IF NOT EXISTS candidates_pool ON candidates (publication_id, family);
CREATE INDEX IF NOT EXISTS candidates_assigned ON candidates (assigned_issue_id, assigned_module_id);

CREATE TABLE IF NOT EXISTS ratings (
	candidate_id TEXT PRIMARY KEY,
	scores TEXT NOT NULL,
	weights TEXT,
	total DOUBLE PRECISION NOT NULL DEFAULT 0,
	rated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS module_selections (
	issue_id TEXT NOT NULL,
	module_id TEXT NOT NULL,
	selection_mode TEXT NOT NULL,
	candidate_ids TEXT NOT NULL,
	pool_size INTEGER NOT NULL DEFAULT 0,
	cursor_start INTEGER NOT NULL DEFAULT 0,
	cursor_advanced BOOLEAN NOT NULL DEFAULT FALSE,
	selected_at TIMESTAMP NOT NULL,
	used_at TIMESTAMP,
	PRIMARY KEY (issue_id, module_id)
);

CREATE TABLE IF NOT EXISTS module_items (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	module_id TEXT NOT NULL,
	candidate_id TEXT NOT NULL,
	item_position INTEGER NOT NULL,
	headline TEXT,
	body TEXT,
	word_count INTEGER NOT NULL DEFAULT 0,
	fc_accuracy DOUBLE PRECISION,
	fc_compliance DOUBLE PRECISION,
	fc_quality DOUBLE PRECISION,
	fc_passed BOOLEAN,
	fc_reason TEXT,
	fc_checked_at TIMESTAMP,
	item_rank INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS module_items_issue ON module_items (issue_id, module_id);
`
