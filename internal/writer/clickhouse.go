package writer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/factory"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

func init() {
	factory.RegisterWriter("clickhouse", func(def config.WriterDef) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse)
	})
}

// ClickHouseWriter appends every snapshot table to a MergeTree table of the
// same name. Each row is prefixed with the run time and the partial tag, so
// successive runs accumulate instead of replacing each other.
type ClickHouseWriter struct {
	conn driver.Conn

	mu      sync.Mutex
	ensured map[string]bool
}

// NewClickHouseWriter connects to ClickHouse.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	logging.WithComponent("clickhouse-writer").Infof("Successfully connected to ClickHouse at %s:%d", cfg.Host, cfg.Port)
	return &ClickHouseWriter{conn: conn, ensured: make(map[string]bool)}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

// Write creates missing tables and sends one batch per non-empty table.
func (w *ClickHouseWriter) Write(ctx context.Context, snapshot *model.Snapshot) error {
	log := logging.WithComponent("clickhouse-writer")

	for i := range snapshot.Tables {
		t := &snapshot.Tables[i]
		if err := w.ensureTable(ctx, t); err != nil {
			return err
		}
		if len(t.Rows) == 0 {
			continue
		}

		batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", chIdent(t.Name)))
		if err != nil {
			return fmt.Errorf("failed to prepare batch for '%s': %w", t.Name, err)
		}
		for _, row := range t.Rows {
			values := make([]any, 0, len(row)+2)
			values = append(values, snapshot.CreatedAt, snapshot.Partial)
			values = append(values, row...)
			if err := batch.Append(values...); err != nil {
				batch.Abort()
				return fmt.Errorf("failed to append row to batch for '%s': %w", t.Name, err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch for '%s': %w", t.Name, err)
		}
		log.Infof("Wrote %d rows to ClickHouse table '%s'", len(t.Rows), t.Name)
	}
	return nil
}

func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

func (w *ClickHouseWriter) ensureTable(ctx context.Context, t *model.Table) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ensured[t.Name] {
		return nil
	}
	if err := w.conn.Exec(ctx, createTableClickHouse(t)); err != nil {
		return fmt.Errorf("failed to create table '%s': %w", t.Name, err)
	}
	w.ensured[t.Name] = true
	return nil
}

func createTableClickHouse(t *model.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", chIdent(t.Name))
	b.WriteString("    `RunTime` DateTime64(6),\n")
	b.WriteString("    `Partial` Bool")
	for _, c := range t.Columns() {
		fmt.Fprintf(&b, ",\n    %s %s", chIdent(c.Name), clickhouseType(c.Type))
	}
	order := []string{"`RunTime`"}
	for _, k := range t.Keys {
		order = append(order, chIdent(k.Name))
	}
	fmt.Fprintf(&b, "\n) ENGINE = MergeTree()\nPARTITION BY toYYYYMM(RunTime)\nORDER BY (%s)", strings.Join(order, ", "))
	return b.String()
}

func clickhouseType(t model.ColumnType) string {
	switch t {
	case model.TypeString:
		return "String"
	case model.TypeInt64:
		return "Int64"
	case model.TypeUint64:
		return "UInt64"
	case model.TypeFloat64:
		return "Float64"
	case model.TypeBool:
		return "Bool"
	}
	return "String"
}

func chIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}
