package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		id                  BIGSERIAL PRIMARY KEY,
		name                TEXT NOT NULL,
		code                TEXT NOT NULL,
		parkonic_api_token  TEXT,
		camera_user         TEXT,
		camera_pass         TEXT,
		api_location_id     BIGINT,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_locations_code ON locations(code);`,
	`CREATE TABLE IF NOT EXISTS poles (
		id              BIGSERIAL PRIMARY KEY,
		location_id     BIGINT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
		code            TEXT NOT NULL,
		api_pole_id     BIGINT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS cameras (
		id              BIGSERIAL PRIMARY KEY,
		pole_id         BIGINT NOT NULL REFERENCES poles(id) ON DELETE CASCADE,
		api_code        TEXT NOT NULL,
		address         TEXT NOT NULL,
		number_of_spots INT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_cameras_api_code ON cameras(api_code);`,
	`CREATE TABLE IF NOT EXISTS spots (
		id              BIGSERIAL PRIMARY KEY,
		camera_id       BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		spot_number     INT NOT NULL,
		bbox_x1         INT NOT NULL DEFAULT 0,
		bbox_y1         INT NOT NULL DEFAULT 0,
		bbox_x2         INT NOT NULL DEFAULT 0,
		bbox_y2         INT NOT NULL DEFAULT 0,
		state           TEXT NOT NULL DEFAULT 'VACANT' CHECK (state IN ('VACANT', 'OCCUPIED')),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_spots_camera_spot ON spots(camera_id, spot_number);`,
	`CREATE TABLE IF NOT EXISTS occupancy_events (
		id              BIGSERIAL PRIMARY KEY,
		camera_id       BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		spot_number     INT NOT NULL,
		occupied        BOOLEAN NOT NULL,
		event_time      TIMESTAMPTZ NOT NULL,
		image_ref       TEXT,
		raw_payload     JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_occupancy_events_spot ON occupancy_events(camera_id, spot_number, event_time);`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id              BIGSERIAL PRIMARY KEY,
		camera_id       BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		spot_number     INT NOT NULL,
		state           TEXT NOT NULL CHECK (state IN ('OPEN', 'CLOSED')),
		plate_number    TEXT,
		plate_code      TEXT,
		plate_city      TEXT,
		confidence      INT,
		entry_time      TIMESTAMPTZ NOT NULL,
		exit_time       TIMESTAMPTZ,
		settlement_ref  TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_tickets_open_spot ON tickets(camera_id, spot_number) WHERE state = 'OPEN';`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_plate_number ON tickets(plate_number);`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_entry_time ON tickets(entry_time);`,
	`CREATE TABLE IF NOT EXISTS manual_reviews (
		id              BIGSERIAL PRIMARY KEY,
		camera_id       BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		spot_number     INT NOT NULL,
		ticket_id       BIGINT REFERENCES tickets(id) ON DELETE SET NULL,
		event_time      TIMESTAMPTZ NOT NULL,
		image_ref       TEXT NOT NULL DEFAULT '',
		clip_ref        TEXT,
		status          TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'RESOLVED')),
		resolution      TEXT CHECK (resolution IN ('CORRECTED', 'DISMISSED')),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		resolved_at     TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS idx_manual_reviews_status ON manual_reviews(status);`,
	`CREATE TABLE IF NOT EXISTS plate_reads (
		id              BIGSERIAL PRIMARY KEY,
		camera_id       BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		spot_number     INT NOT NULL,
		status          TEXT NOT NULL CHECK (status IN ('READ', 'UNREAD')),
		plate_number    TEXT,
		plate_code      TEXT,
		plate_city      TEXT,
		confidence      INT,
		image_ref       TEXT,
		attempted_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_reads_spot ON plate_reads(camera_id, spot_number);`,
}

// Migrate applies the schema statements in order. Every statement is idempotent.
func Migrate(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
