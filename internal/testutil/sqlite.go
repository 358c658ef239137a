// Package testutil provides an in-memory database with the parking schema for tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		parkonic_api_token TEXT,
		camera_user TEXT,
		camera_pass TEXT,
		api_location_id INTEGER,
		created_at DATETIME
	)`,
	`CREATE TABLE poles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		location_id INTEGER NOT NULL REFERENCES locations(id),
		code TEXT NOT NULL,
		api_pole_id INTEGER,
		created_at DATETIME
	)`,
	`CREATE TABLE cameras (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pole_id INTEGER NOT NULL REFERENCES poles(id),
		api_code TEXT NOT NULL,
		address TEXT NOT NULL,
		number_of_spots INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE TABLE spots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		camera_id INTEGER NOT NULL REFERENCES cameras(id),
		spot_number INTEGER NOT NULL,
		bbox_x1 INTEGER NOT NULL DEFAULT 0,
		bbox_y1 INTEGER NOT NULL DEFAULT 0,
		bbox_x2 INTEGER NOT NULL DEFAULT 0,
		bbox_y2 INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'VACANT',
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_spots_camera_spot ON spots(camera_id, spot_number)`,
	`CREATE TABLE occupancy_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		camera_id INTEGER NOT NULL,
		spot_number INTEGER NOT NULL,
		occupied BOOLEAN NOT NULL,
		event_time DATETIME NOT NULL,
		image_ref TEXT,
		raw_payload JSON,
		created_at DATETIME
	)`,
	`CREATE TABLE tickets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		camera_id INTEGER NOT NULL,
		spot_number INTEGER NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('OPEN', 'CLOSED')),
		plate_number TEXT,
		plate_code TEXT,
		plate_city TEXT,
		confidence INTEGER,
		entry_time DATETIME NOT NULL,
		exit_time DATETIME,
		settlement_ref TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_tickets_open_spot ON tickets(camera_id, spot_number) WHERE state = 'OPEN'`,
	`CREATE TABLE manual_reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		camera_id INTEGER NOT NULL,
		spot_number INTEGER NOT NULL,
		ticket_id INTEGER REFERENCES tickets(id),
		event_time DATETIME NOT NULL,
		image_ref TEXT NOT NULL DEFAULT '',
		clip_ref TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		resolution TEXT,
		created_at DATETIME,
		resolved_at DATETIME
	)`,
	`CREATE TABLE plate_reads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		camera_id INTEGER NOT NULL,
		spot_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		plate_number TEXT,
		plate_code TEXT,
		plate_city TEXT,
		confidence INTEGER,
		image_ref TEXT,
		attempted_at DATETIME
	)`,
}

// NewDB opens an isolated in-memory database with the schema applied.
// The pool is pinned to one connection so every statement sees the same memory database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

// Fixture describes the location, pole and camera seeded by SeedCamera.
type Fixture struct {
	LocationID   int64
	LocationCode string
	PoleID       int64
	APIPoleID    int64
	CameraID     int64
	APICode      string
	SpotCount    int
}

// SeedCamera inserts a location "DXB" with one pole and camera "01" covering spotCount spots.
func SeedCamera(t *testing.T, db *gorm.DB, spotCount int) Fixture {
	t.Helper()

	f := Fixture{LocationCode: "DXB", APIPoleID: 501, APICode: "01", SpotCount: spotCount}
	require.NoError(t, db.Raw(
		`INSERT INTO locations (name, code, parkonic_api_token, camera_user, camera_pass, api_location_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP) RETURNING id`,
		"Dubai Marina", f.LocationCode, "loc-token", "admin", "secret", 77,
	).Scan(&f.LocationID).Error)
	require.NoError(t, db.Raw(
		`INSERT INTO poles (location_id, code, api_pole_id, created_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP) RETURNING id`,
		f.LocationID, "P1", f.APIPoleID,
	).Scan(&f.PoleID).Error)
	require.NoError(t, db.Raw(
		`INSERT INTO cameras (pole_id, api_code, address, number_of_spots, created_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP) RETURNING id`,
		f.PoleID, f.APICode, "10.0.0.15", spotCount,
	).Scan(&f.CameraID).Error)
	return f
}

// SeedSpot provisions a spot with an explicit region.
func SeedSpot(t *testing.T, db *gorm.DB, cameraID int64, spotNumber, x1, y1, x2, y2 int) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO spots (camera_id, spot_number, bbox_x1, bbox_y1, bbox_x2, bbox_y2, state, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'VACANT', CURRENT_TIMESTAMP)`,
		cameraID, spotNumber, x1, y1, x2, y2,
	).Error)
}
