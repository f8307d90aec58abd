package writer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/factory"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"

	_ "modernc.org/sqlite"
)

func init() {
	factory.RegisterWriter("sqlite", func(def config.WriterDef) (model.Writer, error) {
		return NewSQLiteWriter(def.SQLite.Path)
	})
}

// SQLiteWriter stores each snapshot table as a SQL table of one database
// file. Every write replaces the previous contents.
type SQLiteWriter struct {
	db   *sql.DB
	path string
}

// NewSQLiteWriter opens (or creates) the database at path.
func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers on the same file.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return &SQLiteWriter{db: db, path: path}, nil
}

func (w *SQLiteWriter) Name() string { return "sqlite" }

// Write replaces every table of the snapshot inside one transaction.
func (w *SQLiteWriter) Write(ctx context.Context, snapshot *model.Snapshot) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range snapshot.Tables {
		if err := writeTable(ctx, tx, &snapshot.Tables[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	logging.WithComponent("sqlite-writer").Infof("Wrote %d tables to '%s'", len(snapshot.Tables), w.path)
	return nil
}

func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}

func writeTable(ctx context.Context, tx *sql.Tx, t *model.Table) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(t.Name))); err != nil {
		return fmt.Errorf("failed to drop table '%s': %w", t.Name, err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQLite(t)); err != nil {
		return fmt.Errorf("failed to create table '%s': %w", t.Name, err)
	}
	if len(t.Rows) == 0 {
		return nil
	}

	cols := t.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(t.Name), strings.Join(names, ", "), placeholders)

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert for '%s': %w", t.Name, err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for _, row := range t.Rows {
		for i, v := range row {
			args[i] = sqliteValue(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row into '%s': %w", t.Name, err)
		}
	}
	return nil
}

func createTableSQLite(t *model.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", quoteIdent(t.Name))
	for i, c := range t.Columns() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s NOT NULL", quoteIdent(c.Name), sqliteType(c.Type))
	}
	if len(t.Keys) > 0 {
		keys := make([]string, len(t.Keys))
		for i, k := range t.Keys {
			keys[i] = quoteIdent(k.Name)
		}
		fmt.Fprintf(&b, ", PRIMARY KEY (%s)", strings.Join(keys, ", "))
	}
	b.WriteString(")")
	return b.String()
}

func sqliteType(t model.ColumnType) string {
	switch t {
	case model.TypeString:
		return "TEXT"
	case model.TypeFloat64:
		return "REAL"
	default:
		return "INTEGER"
	}
}

// sqliteValue maps row values onto types database/sql accepts. SQLite
// integers are signed 64-bit.
func sqliteValue(v any) any {
	if u, ok := v.(uint64); ok {
		return int64(u)
	}
	return v
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
