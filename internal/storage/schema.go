package storage

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS cameras (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		stream_url TEXT NOT NULL,
		watch_fps DOUBLE PRECISION NOT NULL DEFAULT 1,
		grid_rows INTEGER NOT NULL DEFAULT 1,
		grid_cols INTEGER NOT NULL DEFAULT 1,
		tz_offset_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (grid_rows > 0 AND grid_cols > 0 AND watch_fps > 0)
	)`,
	`CREATE TABLE IF NOT EXISTS processors (
		id BIGINT PRIMARY KEY,
		camera_id BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		threshold DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		zones TEXT NOT NULL DEFAULT '',
		classes TEXT NOT NULL DEFAULT '',
		preview BOOLEAN NOT NULL DEFAULT FALSE,
		position INTEGER NOT NULL DEFAULT 0,
		CHECK (threshold >= 0 AND threshold <= 1)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processors_camera ON processors(camera_id, position)`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		processor_id BIGINT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		value DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_processor_ts ON events(processor_id, ts)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS cameras (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		stream_url TEXT NOT NULL,
		watch_fps REAL NOT NULL DEFAULT 1,
		grid_rows INTEGER NOT NULL DEFAULT 1,
		grid_cols INTEGER NOT NULL DEFAULT 1,
		tz_offset_hours REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (grid_rows > 0 AND grid_cols > 0 AND watch_fps > 0)
	)`,
	`CREATE TABLE IF NOT EXISTS processors (
		id INTEGER PRIMARY KEY,
		camera_id INTEGER NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		threshold REAL NOT NULL DEFAULT 0.5,
		zones TEXT NOT NULL DEFAULT '',
		classes TEXT NOT NULL DEFAULT '',
		preview BOOLEAN NOT NULL DEFAULT 0,
		position INTEGER NOT NULL DEFAULT 0,
		CHECK (threshold >= 0 AND threshold <= 1)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processors_camera ON processors(camera_id, position)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		processor_id INTEGER NOT NULL,
		ts TIMESTAMP NOT NULL,
		value REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_processor_ts ON events(processor_id, ts)`,
}
