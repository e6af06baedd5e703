package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/attrs"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// DuckDBConfig holds database configuration. An empty DataDir opens an
// in-memory database.
type DuckDBConfig struct {
	DataDir string
	DBName  string
}

// Path returns the database file, or "" for an in-memory database.
func (c DuckDBConfig) Path() string {
	if c.DataDir == "" {
		return ""
	}
	name := c.DBName
	if name == "" {
		name = "features"
	}
	return filepath.Join(c.DataDir, "duckdb", name+".duckdb")
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS layers (
		id VARCHAR PRIMARY KEY,
		name VARCHAR NOT NULL,
		layer_type VARCHAR NOT NULL,
		opacity DOUBLE NOT NULL,
		style_config VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS geodata (
		id VARCHAR PRIMARY KEY,
		layer_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		description VARCHAR NOT NULL,
		source_url VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE SEQUENCE IF NOT EXISTS feature_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS features (
		id BIGINT PRIMARY KEY,
		geodata_id VARCHAR NOT NULL,
		layer_id VARCHAR NOT NULL,
		geometry_type VARCHAR NOT NULL,
		geometry BLOB NOT NULL,
		min_x DOUBLE NOT NULL,
		min_y DOUBLE NOT NULL,
		max_x DOUBLE NOT NULL,
		max_y DOUBLE NOT NULL,
		name VARCHAR NOT NULL,
		description VARCHAR NOT NULL,
		style_color VARCHAR,
		style_opacity DOUBLE,
		style_weight DOUBLE,
		attributes VARCHAR NOT NULL,
		time_from TIMESTAMP,
		time_to TIMESTAMP,
		zoom_range VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// DuckDB is a Store backed by a DuckDB database. Geometry is stored as WKB
// next to its envelope so bbox candidates come from plain column
// comparisons. Writes are serialised and each runs in one transaction.
type DuckDB struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenDuckDB opens (and if needed creates) the database and its schema.
func OpenDuckDB(ctx context.Context, cfg DuckDBConfig) (*DuckDB, error) {
	path := cfg.Path()
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &DuckDB{db: db, now: nowMicros}, nil
}

// Close closes the database connection.
func (s *DuckDB) Close() error {
	return s.db.Close()
}

// DB exposes the connection for health checks and ad hoc queries.
func (s *DuckDB) DB() *sql.DB {
	return s.db
}

func (s *DuckDB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// --- layers ---

const layerColumns = `id, name, layer_type, opacity, style_config, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLayer(r rowScanner) (*feature.Layer, error) {
	var (
		l     feature.Layer
		typ   string
		style string
	)
	if err := r.Scan(&l.ID, &l.Name, &typ, &l.Opacity, &style, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.LayerType = feature.LayerType(typ)
	cfg, err := attrs.Decode([]byte(style))
	if err != nil {
		return nil, fmt.Errorf("layer %q style_config: %w", l.ID, err)
	}
	l.StyleConfig = map[string]any(cfg)
	return &l, nil
}

func (s *DuckDB) ListLayers(ctx context.Context) ([]*feature.Layer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+layerColumns+` FROM layers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}
	defer rows.Close()

	out := []*feature.Layer{}
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, fmt.Errorf("list layers: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *DuckDB) GetLayer(ctx context.Context, id string) (*feature.Layer, error) {
	return getLayer(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getLayer(ctx context.Context, q querier, id string) (*feature.Layer, error) {
	l, err := scanLayer(q.QueryRowContext(ctx, `SELECT `+layerColumns+` FROM layers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, layerNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get layer %q: %w", id, err)
	}
	return l, nil
}

func (s *DuckDB) CreateLayer(ctx context.Context, l *feature.Layer) error {
	if err := prepareLayer(l); err != nil {
		return err
	}
	style, err := json.Marshal(l.StyleConfig)
	if err != nil {
		return fmt.Errorf("encode style_config: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getLayer(ctx, tx, l.ID); err == nil {
			return fmt.Errorf("layer with ID %q already exists: %w", l.ID, feature.ErrConflict)
		} else if !errors.Is(err, feature.ErrNotFound) {
			return err
		}
		if err := checkLayerName(ctx, tx, l); err != nil {
			return err
		}
		now := s.now()
		_, err := tx.ExecContext(ctx, `INSERT INTO layers (`+layerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.Name, string(l.LayerType), l.Opacity, string(style), now, now)
		if err != nil {
			return fmt.Errorf("insert layer %q: %w", l.ID, err)
		}
		l.CreatedAt, l.UpdatedAt = now, now
		return nil
	})
}

func (s *DuckDB) UpdateLayer(ctx context.Context, l *feature.Layer) error {
	l.Normalize()
	style, err := json.Marshal(l.StyleConfig)
	if err != nil {
		return fmt.Errorf("encode style_config: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		old, err := getLayer(ctx, tx, l.ID)
		if err != nil {
			return err
		}
		if err := checkLayerName(ctx, tx, l); err != nil {
			return err
		}
		now := s.now()
		_, err = tx.ExecContext(ctx,
			`UPDATE layers SET name = ?, layer_type = ?, opacity = ?, style_config = ?, updated_at = ? WHERE id = ?`,
			l.Name, string(l.LayerType), l.Opacity, string(style), now, l.ID)
		if err != nil {
			return fmt.Errorf("update layer %q: %w", l.ID, err)
		}
		l.CreatedAt, l.UpdatedAt = old.CreatedAt, now
		return nil
	})
}

func checkLayerName(ctx context.Context, tx *sql.Tx, l *feature.Layer) error {
	var other string
	err := tx.QueryRowContext(ctx, `SELECT id FROM layers WHERE name = ? AND id <> ? LIMIT 1`, l.Name, l.ID).Scan(&other)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check layer name: %w", err)
	}
	return fmt.Errorf("layer name %q already used by %q: %w", l.Name, other, feature.ErrConflict)
}

func (s *DuckDB) DeleteLayer(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getLayer(ctx, tx, id); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM features WHERE layer_id = ?`,
			`DELETE FROM geodata WHERE layer_id = ?`,
			`DELETE FROM layers WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("delete layer %q: %w", id, err)
			}
		}
		return nil
	})
}

// --- geodata ---

const geoDataColumns = `id, layer_id, name, description, source_url, created_at, updated_at`

func scanGeoData(r rowScanner) (*feature.GeoData, error) {
	var g feature.GeoData
	if err := r.Scan(&g.ID, &g.LayerID, &g.Name, &g.Description, &g.SourceURL, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *DuckDB) GetGeoData(ctx context.Context, id string) (*feature.GeoData, error) {
	return getGeoData(ctx, s.db, `id = ?`, id)
}

func getGeoData(ctx context.Context, q querier, where string, arg any) (*feature.GeoData, error) {
	g, err := scanGeoData(q.QueryRowContext(ctx, `SELECT `+geoDataColumns+` FROM geodata WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, geoDataNotFound(fmt.Sprint(arg))
	}
	if err != nil {
		return nil, fmt.Errorf("get geodata: %w", err)
	}
	return g, nil
}

func (s *DuckDB) ListGeoData(ctx context.Context, layerID string) ([]*feature.GeoData, error) {
	query := `SELECT ` + geoDataColumns + ` FROM geodata`
	var args []any
	if layerID != "" {
		query += ` WHERE layer_id = ?`
		args = append(args, layerID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list geodata: %w", err)
	}
	defer rows.Close()

	out := []*feature.GeoData{}
	for rows.Next() {
		g, err := scanGeoData(rows)
		if err != nil {
			return nil, fmt.Errorf("list geodata: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *DuckDB) PutGeoData(ctx context.Context, g *feature.GeoData) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getLayer(ctx, tx, g.LayerID); err != nil {
			return err
		}
		now := s.now()
		existing, err := getGeoData(ctx, tx, `layer_id = ?`, g.LayerID)
		switch {
		case err == nil:
			g.ID, g.CreatedAt, g.UpdatedAt = existing.ID, existing.CreatedAt, now
			_, err = tx.ExecContext(ctx,
				`UPDATE geodata SET name = ?, description = ?, source_url = ?, updated_at = ? WHERE id = ?`,
				g.Name, g.Description, g.SourceURL, now, g.ID)
			if err != nil {
				return fmt.Errorf("update geodata %q: %w", g.ID, err)
			}
			return nil
		case !errors.Is(err, feature.ErrNotFound):
			return err
		}

		if g.ID == "" {
			g.ID = g.LayerID
		}
		if _, err := getGeoData(ctx, tx, `id = ?`, g.ID); err == nil {
			return fmt.Errorf("geodata with ID %q already exists: %w", g.ID, feature.ErrConflict)
		}
		g.CreatedAt, g.UpdatedAt = now, now
		_, err = tx.ExecContext(ctx, `INSERT INTO geodata (`+geoDataColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.LayerID, g.Name, g.Description, g.SourceURL, now, now)
		if err != nil {
			return fmt.Errorf("insert geodata %q: %w", g.ID, err)
		}
		return nil
	})
}

// --- features ---

const featureColumns = `id, geodata_id, layer_id, geometry_type, geometry, name, description,
	style_color, style_opacity, style_weight, attributes, time_from, time_to, zoom_range,
	created_at, updated_at`

func scanFeature(r rowScanner) (*feature.Feature, error) {
	var (
		f        feature.Feature
		typ      string
		geom     []byte
		color    sql.NullString
		opacity  sql.NullFloat64
		weight   sql.NullFloat64
		bag      string
		timeFrom sql.NullTime
		timeTo   sql.NullTime
	)
	err := r.Scan(&f.ID, &f.GeoDataID, &f.LayerID, &typ, &geom, &f.Name, &f.Description,
		&color, &opacity, &weight, &bag, &timeFrom, &timeTo, &f.ZoomRange,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// An undecodable blob leaves the shape nil for serialization to reject.
	f.Geometry = feature.Geometry{Type: feature.GeometryType(typ)}
	if shape, err := wkb.Unmarshal(geom); err == nil {
		f.Geometry.Shape = shape
	}

	if color.Valid {
		f.StyleColor = &color.String
	}
	if opacity.Valid {
		f.StyleOpacity = &opacity.Float64
	}
	if weight.Valid {
		f.StyleWeight = &weight.Float64
	}
	if timeFrom.Valid {
		t := timeFrom.Time.UTC()
		f.TimeFrom = &t
	}
	if timeTo.Valid {
		t := timeTo.Time.UTC()
		f.TimeTo = &t
	}
	if f.Attributes, err = attrs.Decode([]byte(bag)); err != nil {
		return nil, fmt.Errorf("feature %d: %w", f.ID, err)
	}
	return &f, nil
}

func (s *DuckDB) GetFeature(ctx context.Context, id int64) (*feature.Feature, error) {
	f, err := scanFeature(s.db.QueryRowContext(ctx, `SELECT `+featureColumns+` FROM features WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, featureNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get feature %d: %w", id, err)
	}
	return f, nil
}

func (s *DuckDB) ListFeatures(ctx context.Context, scope Scope) ([]*feature.Feature, error) {
	var (
		where []string
		args  []any
	)
	if scope.LayerID != "" {
		where = append(where, `layer_id = ?`)
		args = append(args, scope.LayerID)
	}
	if scope.GeoDataID != "" {
		where = append(where, `geodata_id = ?`)
		args = append(args, scope.GeoDataID)
	}
	if b := scope.BBox; b != nil {
		where = append(where, `max_x >= ? AND min_x <= ? AND max_y >= ? AND min_y <= ?`)
		args = append(args, b.Min[0], b.Max[0], b.Min[1], b.Max[1])
	}
	query := `SELECT ` + featureColumns + ` FROM features`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	out := []*feature.Feature{}
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("list features: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *DuckDB) SaveFeature(ctx context.Context, f *feature.Feature) error {
	if f.Geometry.IsZero() {
		return &feature.GeometryError{FeatureID: f.ID, Reason: "geometry is null"}
	}
	geom, err := wkb.Marshal(f.Geometry.Shape)
	if err != nil {
		return &feature.GeometryError{FeatureID: f.ID, Type: f.Geometry.Type, Reason: err.Error()}
	}
	if f.Attributes == nil {
		f.Attributes = feature.Attributes{}
	}
	bag, err := json.Marshal(f.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	bound := f.Geometry.Bound()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		g, err := getGeoData(ctx, tx, `id = ?`, f.GeoDataID)
		if err != nil {
			return err
		}
		now := s.now()
		created := now
		if f.ID != 0 {
			err := tx.QueryRowContext(ctx, `SELECT created_at FROM features WHERE id = ?`, f.ID).Scan(&created)
			if errors.Is(err, sql.ErrNoRows) {
				return featureNotFound(f.ID)
			}
			if err != nil {
				return fmt.Errorf("load feature %d: %w", f.ID, err)
			}
			_, err = tx.ExecContext(ctx, `UPDATE features SET geodata_id = ?, layer_id = ?, geometry_type = ?,
				geometry = ?, min_x = ?, min_y = ?, max_x = ?, max_y = ?, name = ?, description = ?,
				style_color = ?, style_opacity = ?, style_weight = ?, attributes = ?, time_from = ?,
				time_to = ?, zoom_range = ?, updated_at = ? WHERE id = ?`,
				g.ID, g.LayerID, string(f.Geometry.Type), geom,
				bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1],
				f.Name, f.Description, nullString(f.StyleColor), nullFloat(f.StyleOpacity), nullFloat(f.StyleWeight),
				string(bag), nullTime(f.TimeFrom), nullTime(f.TimeTo), f.ZoomRange, now, f.ID)
			if err != nil {
				return fmt.Errorf("update feature %d: %w", f.ID, err)
			}
		} else {
			if err := tx.QueryRowContext(ctx, `SELECT nextval('feature_id_seq')`).Scan(&f.ID); err != nil {
				return fmt.Errorf("next feature id: %w", err)
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO features (id, geodata_id, layer_id, geometry_type, geometry,
				min_x, min_y, max_x, max_y, name, description, style_color, style_opacity, style_weight,
				attributes, time_from, time_to, zoom_range, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				f.ID, g.ID, g.LayerID, string(f.Geometry.Type), geom,
				bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1],
				f.Name, f.Description, nullString(f.StyleColor), nullFloat(f.StyleOpacity), nullFloat(f.StyleWeight),
				string(bag), nullTime(f.TimeFrom), nullTime(f.TimeTo), f.ZoomRange, now, now)
			if err != nil {
				f.ID = 0
				return fmt.Errorf("insert feature: %w", err)
			}
		}
		f.LayerID = g.LayerID
		f.CreatedAt, f.UpdatedAt = created.UTC(), now
		return nil
	})
}

func (s *DuckDB) DeleteFeature(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM features WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete feature %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return featureNotFound(id)
		}
		return nil
	})
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}
