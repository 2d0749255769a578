package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chartrec/internal/logging"
)

// SQLiteAdapter reads structured evidence rows from a local warehouse
// extract. The schema is a flat observation table:
//
//	observations(subject_id, encounter_linked, field, value, observed_at, source_ref)
//
// The warehouse query text that produced the extract is out of scope; this
// adapter only reads the landed rows.
type SQLiteAdapter struct {
	name string
	db   *sql.DB
}

// OpenSQLiteAdapter opens the extract database read-only.
func OpenSQLiteAdapter(name, path string) (*SQLiteAdapter, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open extract database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify extract database: %w", err)
	}
	return &SQLiteAdapter{name: name, db: db}, nil
}

// Name implements Adapter.
func (a *SQLiteAdapter) Name() string { return a.name }

// Close releases the underlying database handle.
func (a *SQLiteAdapter) Close() error { return a.db.Close() }

// Query implements Adapter. Each matching row becomes one structured
// candidate with a single field populated, so downstream tiers see the same
// shape regardless of how many fields the caller asked for.
func (a *SQLiteAdapter) Query(ctx context.Context, c Criteria) ([]RawCandidate, error) {
	timer := logging.StartTimer(logging.CategorySource, "SQLiteAdapter.Query")
	defer timer.Stop()

	var (
		where []string
		args  []interface{}
	)
	where = append(where, "subject_id = ?")
	args = append(args, c.SubjectID)

	if len(c.Fields) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(c.Fields)), ",")
		where = append(where, fmt.Sprintf("field IN (%s)", placeholders))
		for _, f := range c.Fields {
			args = append(args, f)
		}
	}
	if c.Linkage == LinkageEncounter {
		where = append(where, "encounter_linked = 1")
	}
	if !c.Since.IsZero() {
		where = append(where, "observed_at >= ?")
		args = append(args, c.Since.UTC().Format(time.RFC3339))
	}
	if !c.Until.IsZero() {
		where = append(where, "observed_at <= ?")
		args = append(args, c.Until.UTC().Format(time.RFC3339))
	}

	query := fmt.Sprintf(
		"SELECT source_ref, field, value, observed_at FROM observations WHERE %s ORDER BY observed_at DESC",
		strings.Join(where, " AND "))
	if c.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", c.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		logging.Get(logging.CategorySource).Error("%s: query failed: %v", a.name, err)
		return nil, fmt.Errorf("%s: %w: %v", a.name, ErrUnavailable, err)
	}
	defer rows.Close()

	var out []RawCandidate
	for rows.Next() {
		var ref, field, value, observedAt string
		if err := rows.Scan(&ref, &field, &value, &observedAt); err != nil {
			return nil, fmt.Errorf("%s: scan failed: %w", a.name, err)
		}
		out = append(out, RawCandidate{
			Kind:   KindStructured,
			ID:     ref,
			Fields: map[string]string{field: value},
			Metadata: map[string]string{
				"field":       field,
				"observed_at": observedAt,
				"adapter":     a.name,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", a.name, ErrUnavailable, err)
	}

	logging.Get(logging.CategorySource).Debug("%s: %d structured candidates for %s/%s",
		a.name, len(out), c.SubjectID, c.TargetFactID)
	return out, nil
}
