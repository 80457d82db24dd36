package cascade

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/For-Sunny/cascade-memory/internal/logging"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp REAL NOT NULL,
	content TEXT NOT NULL,
	event TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	importance REAL NOT NULL DEFAULT 0.7,
	emotional_intensity REAL NOT NULL DEFAULT 0.5,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);
CREATE INDEX IF NOT EXISTS idx_records_importance ON records(importance);
`

// LayerStore wraps a single layer's embedded database file: one handle, one
// writer, the schema from §3 plus the additive columns from migrations.go.
// Grounded on codeNERD's local_core.go: single *sql.DB, SetMaxOpenConns(1),
// busy_timeout + WAL + NORMAL synchronous, CREATE TABLE IF NOT EXISTS then
// indexes, migrations run before any index that depends on a migrated
// column.
type LayerStore struct {
	Layer Layer
	Path  string
	db    *sql.DB
}

// OpenLayerStore opens (creating if absent) the database file for layer at
// path, applies the base schema, runs additive migrations, and creates the
// decay-dependent indexes.
func OpenLayerStore(layer Layer, path string) (*LayerStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, WrapError(CodeConfigurationError, err, "layer %s: create directory", layer)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, WrapError(CodeConnectionError, err, "layer %s: open", layer)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, WrapError(CodeConnectionError, err, "layer %s: pragma", layer)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, WrapError(CodeDatabaseError, err, "layer %s: create schema", layer)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, WrapError(CodeDatabaseError, err, "layer %s: migrate", layer)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_effective_importance ON records(effective_importance)`); err != nil {
		db.Close()
		return nil, WrapError(CodeDatabaseError, err, "layer %s: create decay index", layer)
	}

	logging.Store("opened layer %s at %s", layer, path)
	return &LayerStore{Layer: layer, Path: path, db: db}, nil
}

// Close releases the underlying handle.
func (s *LayerStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert writes a new record and returns its assigned id. timestamp,
// last_accessed, and effective_importance follow the creation-time
// invariants from §3: last_accessed = timestamp, effective_importance =
// importance when immortal else NULL, access_count = 0.
func (s *LayerStore) Insert(r Record, immortalThreshold float64) (int64, error) {
	metaJSON, err := marshalMetadata(r.Metadata)
	if err != nil {
		return 0, WrapError(CodeInternalError, err, "marshal metadata")
	}

	var effImportance interface{}
	if r.Importance >= immortalThreshold {
		effImportance = r.Importance
	}

	res, err := s.db.Exec(
		`INSERT INTO records (timestamp, content, event, context, importance, emotional_intensity, metadata, last_accessed, effective_importance, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		r.Timestamp, r.Content, r.Content, r.Context, r.Importance, r.EmotionalIntensity, metaJSON, r.Timestamp, effImportance,
	)
	if err != nil {
		return 0, WrapError(CodeWriteError, err, "layer %s: insert", s.Layer)
	}
	return res.LastInsertId()
}

// InsertWithID writes a record honoring an explicit id, used by the
// Coordinator to keep the cache store's row ids aligned with the truth
// store's generated id.
func (s *LayerStore) InsertWithID(id int64, r Record, immortalThreshold float64) error {
	metaJSON, err := marshalMetadata(r.Metadata)
	if err != nil {
		return WrapError(CodeInternalError, err, "marshal metadata")
	}

	var effImportance interface{}
	if r.Importance >= immortalThreshold {
		effImportance = r.Importance
	}

	_, err = s.db.Exec(
		`INSERT INTO records (id, timestamp, content, event, context, importance, emotional_intensity, metadata, last_accessed, effective_importance, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		id, r.Timestamp, r.Content, r.Content, r.Context, r.Importance, r.EmotionalIntensity, metaJSON, r.Timestamp, effImportance,
	)
	if err != nil {
		return WrapError(CodeWriteError, err, "layer %s: insert with id", s.Layer)
	}
	return nil
}

// UpdateEffectiveImportance is the sweep's per-row write.
func (s *LayerStore) UpdateEffectiveImportance(id int64, e float64) error {
	_, err := s.db.Exec(`UPDATE records SET effective_importance = ? WHERE id = ?`, e, id)
	if err != nil {
		return WrapError(CodeWriteError, err, "layer %s: update effective_importance", s.Layer)
	}
	return nil
}

// Touch refreshes last_accessed and increments access_count for one id.
func (s *LayerStore) Touch(id int64, now float64) error {
	_, err := s.db.Exec(`UPDATE records SET last_accessed = ?, access_count = access_count + 1 WHERE id = ?`, now, id)
	if err != nil {
		return WrapError(CodeWriteError, err, "layer %s: touch", s.Layer)
	}
	return nil
}

// SweepCandidates returns up to batchSize rows eligible for a decay sweep:
// importance < immortalThreshold AND last_accessed IS NOT NULL (§4.5).
func (s *LayerStore) SweepCandidates(immortalThreshold float64, batchSize int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, importance, last_accessed FROM records
		 WHERE importance < ? AND last_accessed IS NOT NULL
		 LIMIT ?`,
		immortalThreshold, batchSize,
	)
	if err != nil {
		return nil, WrapError(CodeDatabaseError, err, "layer %s: sweep candidates", s.Layer)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var lastAccessed sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Importance, &lastAccessed); err != nil {
			return nil, WrapError(CodeDatabaseError, err, "layer %s: scan sweep row", s.Layer)
		}
		if lastAccessed.Valid {
			v := lastAccessed.Float64
			r.LastAccessed = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Scan runs a compiled WHERE/ORDER BY/LIMIT against this layer.
func (s *LayerStore) Scan(where string, args []interface{}, orderBy string, limit int) ([]Record, error) {
	query := fmt.Sprintf(
		`SELECT id, timestamp, content, context, importance, emotional_intensity, metadata, last_accessed, effective_importance, access_count
		 FROM records WHERE %s ORDER BY %s LIMIT ?`, where, orderBy)
	rows, err := s.db.Query(query, append(append([]interface{}{}, args...), limit)...)
	if err != nil {
		return nil, WrapError(CodeDatabaseError, err, "layer %s: scan", s.Layer)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows, s.Layer)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(rs rowScanner, layer Layer) (Record, error) {
	var r Record
	var metaJSON string
	var lastAccessed, effImportance sql.NullFloat64
	r.Layer = layer
	if err := rs.Scan(&r.ID, &r.Timestamp, &r.Content, &r.Context, &r.Importance, &r.EmotionalIntensity, &metaJSON, &lastAccessed, &effImportance, &r.AccessCount); err != nil {
		return Record{}, WrapError(CodeDatabaseError, err, "layer %s: scan row", layer)
	}
	if lastAccessed.Valid {
		v := lastAccessed.Float64
		r.LastAccessed = &v
	}
	if effImportance.Valid {
		v := effImportance.Float64
		r.EffectiveImportance = &v
	}
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return Record{}, WrapError(CodeInternalError, err, "layer %s: unmarshal metadata", layer)
	}
	r.Metadata = meta
	return r, nil
}

// Stats is the aggregate view for get_stats (§6). Field tags follow the
// snake_case wire shape every other response struct in this package uses.
type Stats struct {
	Count         int64    `json:"count"`
	AvgImportance float64  `json:"avg_importance"`
	AvgEmotional  float64  `json:"avg_emotional_intensity"`
	MostRecent    *float64 `json:"most_recent,omitempty"`
	ImmortalCount int64    `json:"immortal_count"`
	ActiveCount   int64    `json:"active_count"`
	DecayedCount  int64    `json:"decayed_count"`
}

// Count reports the row count for this layer, used both by get_status's
// per-layer record and as a cheap liveness ping in Coordinator.Health().
func (s *LayerStore) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, WrapError(CodeDatabaseError, err, "layer %s: count", s.Layer)
	}
	return n, nil
}

// GetStats computes the §6 get_stats aggregate for this layer.
func (s *LayerStore) GetStats(immortalThreshold, visibilityThreshold float64) (Stats, error) {
	var st Stats
	var mostRecent sql.NullFloat64
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(AVG(importance),0), COALESCE(AVG(emotional_intensity),0), MAX(timestamp) FROM records`)
	if err := row.Scan(&st.Count, &st.AvgImportance, &st.AvgEmotional, &mostRecent); err != nil {
		return Stats{}, WrapError(CodeDatabaseError, err, "layer %s: get_stats aggregate", s.Layer)
	}
	if mostRecent.Valid {
		v := mostRecent.Float64
		st.MostRecent = &v
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE importance >= ?`, immortalThreshold).Scan(&st.ImmortalCount); err != nil {
		return Stats{}, WrapError(CodeDatabaseError, err, "layer %s: immortal count", s.Layer)
	}
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM records WHERE effective_importance IS NULL OR effective_importance >= ?`, visibilityThreshold,
	).Scan(&st.ActiveCount); err != nil {
		return Stats{}, WrapError(CodeDatabaseError, err, "layer %s: active count", s.Layer)
	}
	st.DecayedCount = st.Count - st.ActiveCount
	return st, nil
}
