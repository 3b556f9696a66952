package journal

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on entries.kind
const currentSchemaVersion = 1

// Entry is one recorded lifecycle transition.
type Entry struct {
	Seq          int64          `json:"seq" yaml:"seq"`
	Session      string         `json:"session" yaml:"session"`
	Kind         string         `json:"kind" yaml:"kind"`
	State        string         `json:"state" yaml:"state"`
	AnnotationID int64          `json:"annotation_id,omitempty" yaml:"annotation_id,omitempty"`
	Detail       map[string]any `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Journal is a SQLite-backed lifecycle trace.
// Uses WAL mode so traces can be read while a session is recording.
type Journal struct {
	db *sql.DB
}

// Open creates or opens a journal database at path.
// Pass ":memory:" for a throwaway journal.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Safe to call repeatedly on the same path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite supports a single writer; one connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends an entry. An entry with an existing seq is ignored.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.Seq <= 0 {
		return fmt.Errorf("record entry: seq must be positive, got %d", e.Seq)
	}
	if e.Session == "" {
		return fmt.Errorf("record entry %d: empty session", e.Seq)
	}

	detail, err := marshalDetail(e.Detail)
	if err != nil {
		return fmt.Errorf("record entry %d: %w", e.Seq, err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO entries (seq, session, kind, state, annotation_id, detail)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, e.Seq, e.Session, e.Kind, e.State, e.AnnotationID, detail)
	if err != nil {
		return fmt.Errorf("record entry %d: %w", e.Seq, err)
	}
	return nil
}

// Filter narrows a Read. Zero fields match everything.
type Filter struct {
	Session      string
	Kind         string
	AnnotationID int64
}

// Read returns the entries matching f ordered by seq.
func (j *Journal) Read(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Session != "" {
		where = append(where, "session = ?")
		args = append(args, f.Session)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.AnnotationID != 0 {
		where = append(where, "annotation_id = ?")
		args = append(args, f.AnnotationID)
	}

	query := "SELECT seq, session, kind, state, annotation_id, detail FROM entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries %+v: %w", f, err)
	}
	return scanEntries(rows)
}

// ReadSession returns the entries of one session ordered by seq.
// Returns an empty slice (not nil) when the session has no entries.
func (j *Journal) ReadSession(ctx context.Context, session string) ([]Entry, error) {
	return j.Read(ctx, Filter{Session: session})
}

// ReadAll returns every entry ordered by seq.
func (j *Journal) ReadAll(ctx context.Context) ([]Entry, error) {
	return j.Read(ctx, Filter{})
}

// ReadAnnotation returns every entry that touched annotation id, ordered by seq.
func (j *Journal) ReadAnnotation(ctx context.Context, id int64) ([]Entry, error) {
	return j.Read(ctx, Filter{AnnotationID: id})
}

// ReadKind returns every entry of one kind ordered by seq.
func (j *Journal) ReadKind(ctx context.Context, kind string) ([]Entry, error) {
	return j.Read(ctx, Filter{Kind: kind})
}

// Sessions returns every session token ordered by its first entry.
func (j *Journal) Sessions(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session
		FROM entries
		GROUP BY session
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// LastSeq returns the highest recorded seq, or 0 for an empty journal.
// Used to resume the engine clock when appending to an existing journal.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM entries`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e      Entry
			detail string
		)
		if err := rows.Scan(&e.Seq, &e.Session, &e.Kind, &e.State, &e.AnnotationID, &detail); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		d, err := unmarshalDetail(detail)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.Seq, err)
		}
		e.Detail = d
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// marshalDetail encodes detail as JSON with sorted keys.
func marshalDetail(detail map[string]any) (string, error) {
	if len(detail) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return "", fmt.Errorf("marshal detail: %w", err)
	}
	return string(data), nil
}

// unmarshalDetail decodes a stored detail. Numbers stay json.Number so
// re-encoding reproduces the stored text exactly.
func unmarshalDetail(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var detail map[string]any
	if err := dec.Decode(&detail); err != nil {
		return nil, fmt.Errorf("unmarshal detail: %w", err)
	}
	return detail, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes entries by kind for trace filtering.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind, seq)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
