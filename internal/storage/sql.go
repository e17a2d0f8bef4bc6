package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/multierr"

	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// SQLConfig selects the driver and pool settings
type SQLConfig struct {
	Driver          string // postgres, sqlite3
	DSN             string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore implements ConfigStore and EventSink on top of sqlx. Queries are
// written with ? placeholders and rebound for the active driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	logger watchlog.Logger
}

// OpenSQLStore connects, pings and creates the schema if needed
func OpenSQLStore(ctx context.Context, config SQLConfig) (*SQLStore, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 5 * time.Minute
	}
	if config.Driver == "sqlite3" {
		// one writer; also keeps :memory: databases on a single connection
		config.MaxConnections = 1
		config.MaxIdleConns = 1
	}

	db, err := sqlx.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxIdleConns)
	if config.Driver != "sqlite3" {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewSQLStore(db)
	if err := store.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewSQLStore wraps an already opened database
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: db.DriverName(),
		logger: watchlog.L().Named("sql-store"),
	}
}

// InitSchema creates the tables if they don't exist
func (s *SQLStore) InitSchema(ctx context.Context) error {
	stmts := postgresSchema
	if s.driver == "sqlite3" {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	s.logger.Debug("Schema ready", watchlog.String("driver", s.driver))
	return nil
}

// GetCamera returns ErrNotFound when the camera was deleted
func (s *SQLStore) GetCamera(ctx context.Context, id int64) (*Camera, error) {
	query := s.db.Rebind(`
		SELECT id, name, stream_url, watch_fps, grid_rows, grid_cols, tz_offset_hours, created_at
		FROM cameras
		WHERE id = ?`)

	var cam Camera
	err := s.db.GetContext(ctx, &cam, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("camera %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return &cam, nil
}

// ListCameras returns every camera ordered by id
func (s *SQLStore) ListCameras(ctx context.Context) ([]Camera, error) {
	var cams []Camera
	err := s.db.SelectContext(ctx, &cams, `
		SELECT id, name, stream_url, watch_fps, grid_rows, grid_cols, tz_offset_hours, created_at
		FROM cameras
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cams, nil
}

// ListEnabledProcessors returns the camera's enabled processors in configured
// order. Rows that fail to decode are skipped and reported together in an
// error wrapping ErrInvalidProcessor; the valid configs are still returned.
func (s *SQLStore) ListEnabledProcessors(ctx context.Context, cameraID int64) ([]ProcessorConfig, error) {
	query := s.db.Rebind(`
		SELECT id, camera_id, kind, enabled, threshold, zones, classes, preview, position
		FROM processors
		WHERE camera_id = ? AND enabled = ?
		ORDER BY position, id`)

	var rows []processorRow
	if err := s.db.SelectContext(ctx, &rows, query, cameraID, true); err != nil {
		return nil, fmt.Errorf("failed to list processors: %w", err)
	}

	out := make([]ProcessorConfig, 0, len(rows))
	var invalid error
	for _, r := range rows {
		pc, err := r.toConfig()
		if err != nil {
			invalid = multierr.Append(invalid, err)
			continue
		}
		out = append(out, pc)
	}
	return out, invalid
}

// GetProcessor loads one processor regardless of its enabled flag
func (s *SQLStore) GetProcessor(ctx context.Context, id int64) (*ProcessorConfig, error) {
	query := s.db.Rebind(`
		SELECT id, camera_id, kind, enabled, threshold, zones, classes, preview, position
		FROM processors
		WHERE id = ?`)

	var row processorRow
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("processor %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processor: %w", err)
	}
	pc, err := row.toConfig()
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

// UpsertCamera inserts or replaces a camera row keyed by id
func (s *SQLStore) UpsertCamera(ctx context.Context, cam *Camera) error {
	query := s.db.Rebind(`
		INSERT INTO cameras (id, name, stream_url, watch_fps, grid_rows, grid_cols, tz_offset_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			stream_url = excluded.stream_url,
			watch_fps = excluded.watch_fps,
			grid_rows = excluded.grid_rows,
			grid_cols = excluded.grid_cols,
			tz_offset_hours = excluded.tz_offset_hours`)

	_, err := s.db.ExecContext(ctx, query,
		cam.ID, cam.Name, cam.StreamURL, cam.WatchFPS, cam.GridRows, cam.GridCols, cam.TZOffsetHours)
	if err != nil {
		return fmt.Errorf("failed to upsert camera: %w", err)
	}
	return nil
}

// DeleteCamera removes the camera and its processors
func (s *SQLStore) DeleteCamera(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM processors WHERE camera_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete processors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM cameras WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	return tx.Commit()
}

// UpsertProcessor inserts or replaces a processor row keyed by id
func (s *SQLStore) UpsertProcessor(ctx context.Context, pc ProcessorConfig) error {
	if !pc.Kind.Valid() {
		return fmt.Errorf("unknown processor kind %q", pc.Kind)
	}
	if pc.Threshold < 0 || pc.Threshold > 1 {
		return fmt.Errorf("threshold %.3f outside [0,1]", pc.Threshold)
	}
	row, err := rowFromConfig(pc)
	if err != nil {
		return err
	}

	query := s.db.Rebind(`
		INSERT INTO processors (id, camera_id, kind, enabled, threshold, zones, classes, preview, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			camera_id = excluded.camera_id,
			kind = excluded.kind,
			enabled = excluded.enabled,
			threshold = excluded.threshold,
			zones = excluded.zones,
			classes = excluded.classes,
			preview = excluded.preview,
			position = excluded.position`)

	_, err = s.db.ExecContext(ctx, query,
		row.ID, row.CameraID, row.Kind, row.Enabled, row.Threshold, row.Zones, row.Classes, row.Preview, row.Position)
	if err != nil {
		return fmt.Errorf("failed to upsert processor: %w", err)
	}
	return nil
}

// AppendEvent stores one metric sample. Timestamps are kept in UTC.
func (s *SQLStore) AppendEvent(ctx context.Context, processorID int64, ts time.Time, value float64) error {
	query := s.db.Rebind(`INSERT INTO events (processor_id, ts, value) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, processorID, ts.UTC(), value); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// TrafficSum totals the processor's events in (from, to]
func (s *SQLStore) TrafficSum(ctx context.Context, processorID int64, from, to time.Time) (*TrafficSummary, error) {
	from, to = from.UTC(), to.UTC()

	var agg struct {
		Total sql.NullFloat64 `db:"total"`
		Count int64           `db:"n"`
	}
	err := s.db.GetContext(ctx, &agg, s.db.Rebind(`
		SELECT SUM(value) AS total, COUNT(*) AS n
		FROM events
		WHERE processor_id = ? AND ts > ? AND ts <= ?`), processorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to sum events: %w", err)
	}

	summary := &TrafficSummary{Total: agg.Total.Float64, Count: agg.Count}
	if agg.Count == 0 {
		return summary, nil
	}

	// Separate ordered lookups keep the column type, so both drivers scan
	// the bound into time.Time.
	bound := func(order string) (*time.Time, error) {
		var ts time.Time
		err := s.db.GetContext(ctx, &ts, s.db.Rebind(`
			SELECT ts FROM events
			WHERE processor_id = ? AND ts > ? AND ts <= ?
			ORDER BY ts `+order+` LIMIT 1`), processorID, from, to)
		if err != nil {
			return nil, err
		}
		return &ts, nil
	}
	if summary.MinTS, err = bound("ASC"); err != nil {
		return nil, fmt.Errorf("failed to find first event: %w", err)
	}
	if summary.MaxTS, err = bound("DESC"); err != nil {
		return nil, fmt.Errorf("failed to find last event: %w", err)
	}
	return summary, nil
}

// LatestEvent returns the newest event at or before at
func (s *SQLStore) LatestEvent(ctx context.Context, processorID int64, at time.Time) (*Event, error) {
	var ev Event
	err := s.db.GetContext(ctx, &ev, s.db.Rebind(`
		SELECT id, processor_id, ts, value
		FROM events
		WHERE processor_id = ? AND ts <= ?
		ORDER BY ts DESC, id DESC
		LIMIT 1`), processorID, at.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no event for processor %d: %w", processorID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest event: %w", err)
	}
	return &ev, nil
}

// HealthCheck pings the database
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}
