package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS schedule_events (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	all_day INTEGER NOT NULL DEFAULT 0,
	event_type TEXT NOT NULL DEFAULT 'other',
	status TEXT NOT NULL DEFAULT 'scheduled',
	priority TEXT NOT NULL DEFAULT 'medium',
	external_provider TEXT NOT NULL DEFAULT '',
	external_calendar_id TEXT,
	sync_status TEXT NOT NULL DEFAULT 'local',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_schedule_events_external
	ON schedule_events(external_provider, external_calendar_id)
	WHERE external_calendar_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_schedule_events_start_time ON schedule_events(start_time);
CREATE INDEX IF NOT EXISTS idx_schedule_events_sync_status ON schedule_events(sync_status);

CREATE TABLE IF NOT EXISTS calendar_integrations (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	name TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	sync_direction TEXT NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'local',
	last_sync DATETIME,
	sync_token TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_calendar_integrations_enabled_provider
	ON calendar_integrations(provider)
	WHERE enabled = 1;
`

// InitSchema creates tables and indexes that do not exist yet.
func InitSchema(db *sqlx.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
