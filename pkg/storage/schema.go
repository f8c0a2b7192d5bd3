package storage

// Schema bootstrap. All primary keys are UUIDv7 strings; timestamps are Unix
// seconds except time_entry_outbox.retry_after, which is Unix milliseconds.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS activity_snapshots (
		id            TEXT PRIMARY KEY,
		timestamp     INTEGER NOT NULL,
		app_name      TEXT NOT NULL,
		window_title  TEXT NOT NULL DEFAULT '',
		duration_secs INTEGER NOT NULL DEFAULT 0,
		is_idle       INTEGER NOT NULL DEFAULT 0,
		batch_id      TEXT,
		created_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON activity_snapshots(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_batch ON activity_snapshots(batch_id)`,

	`CREATE TABLE IF NOT EXISTS proposed_time_blocks (
		id                    TEXT PRIMARY KEY,
		start_ts              INTEGER NOT NULL,
		end_ts                INTEGER NOT NULL,
		label                 TEXT NOT NULL DEFAULT '',
		wbs_code              TEXT,
		confidence            REAL NOT NULL DEFAULT 0,
		snapshot_ids          TEXT NOT NULL DEFAULT '[]',
		segment_ids           TEXT NOT NULL DEFAULT '[]',
		reasons               TEXT NOT NULL DEFAULT '[]',
		overlapping_event_ids TEXT NOT NULL DEFAULT '[]',
		status                TEXT NOT NULL DEFAULT 'suggested',
		created_at            INTEGER NOT NULL,
		reviewed_at           INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_blocks_range ON proposed_time_blocks(start_ts, end_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_blocks_status ON proposed_time_blocks(status)`,

	`CREATE TABLE IF NOT EXISTS block_config (
		id                   INTEGER PRIMARY KEY CHECK (id = 1),
		min_block_secs       INTEGER NOT NULL,
		merge_gap_secs       INTEGER NOT NULL,
		confidence_threshold REAL NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS time_entry_outbox (
		id              TEXT PRIMARY KEY,
		idempotency_key TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		payload         TEXT NOT NULL DEFAULT '{}',
		target          TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		attempts        INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT,
		retry_after     INTEGER,
		sap_entry_id    TEXT,
		correlation_id  TEXT,
		wbs_code        TEXT,
		description     TEXT,
		version         INTEGER NOT NULL DEFAULT 1,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL,
		UNIQUE (user_id, target, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_status ON time_entry_outbox(status, created_at)`,

	`CREATE TABLE IF NOT EXISTS batch_queue (
		batch_id              TEXT PRIMARY KEY,
		activity_count        INTEGER NOT NULL DEFAULT 0,
		status                TEXT NOT NULL DEFAULT 'pending',
		created_at            INTEGER NOT NULL,
		processed_at          INTEGER,
		error_message         TEXT,
		processing_started_at INTEGER,
		worker_id             TEXT,
		lease_expires_at      INTEGER,
		time_entries_created  INTEGER NOT NULL DEFAULT 0,
		openai_cost           REAL NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batch_status ON batch_queue(status, created_at)`,

	`CREATE TABLE IF NOT EXISTS id_mappings (
		local_id    TEXT NOT NULL,
		backend_id  TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		PRIMARY KEY (local_id, entity_type),
		UNIQUE (backend_id, entity_type)
	)`,

	`CREATE TABLE IF NOT EXISTS idle_periods (
		id         TEXT PRIMARY KEY,
		start_ts   INTEGER NOT NULL,
		end_ts     INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS activity_segments (
		id         TEXT PRIMARY KEY,
		start_ts   INTEGER NOT NULL,
		end_ts     INTEGER NOT NULL,
		label      TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS token_usage (
		id                 TEXT PRIMARY KEY,
		batch_id           TEXT NOT NULL,
		user_id            TEXT NOT NULL,
		input_tokens       INTEGER NOT NULL,
		output_tokens      INTEGER NOT NULL,
		estimated_cost_usd REAL NOT NULL,
		timestamp          INTEGER NOT NULL,
		is_actual          INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_token_usage_user ON token_usage(user_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_token_usage_batch ON token_usage(batch_id)`,

	`CREATE TABLE IF NOT EXISTS calendar_events (
		id         TEXT PRIMARY KEY,
		start_ts   INTEGER NOT NULL,
		end_ts     INTEGER NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS calendar_sync_settings (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		enabled      INTEGER NOT NULL DEFAULT 0,
		last_sync_at INTEGER
	)`,
}
