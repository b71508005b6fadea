package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

// TimescaleSink stores every data record of a batch as one row:
// (session_id, ts, seq, fields jsonb). Numeric fields are stored as numbers,
// everything else as strings.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	return &TimescaleSink{db: db, tableName: table}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

// EnsureSchema creates the record table when it does not exist yet. The
// primary key is what ON CONFLICT relies on.
func (t *TimescaleSink) EnsureSchema(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	session_id TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	seq BIGINT NOT NULL,
	fields JSONB NOT NULL,
	PRIMARY KEY (session_id, seq)
)`, t.tableName))
	return err
}

func (t *TimescaleSink) WriteBatch(batch domain.Batch) error {
	var b strings.Builder
	args := make([]any, 0, len(batch.Records)*4)

	for _, rec := range batch.Records {
		if rec.Kind != domain.KindData {
			continue
		}
		if len(args) == 0 {
			b.WriteString("INSERT INTO ")
			b.WriteString(t.tableName)
			b.WriteString(" (session_id, ts, seq, fields) VALUES ")
		} else {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d)", len(args)+1, len(args)+2, len(args)+3, len(args)+4))

		fields, err := json.Marshal(rowFields(rec))
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		args = append(args, batch.SessionID, rec.ReceivedAt, rec.Seq, fields)
	}
	if len(args) == 0 {
		return nil
	}

	// seq is unique per session, so replays are idempotent
	b.WriteString(" ON CONFLICT (session_id, seq) DO NOTHING")

	_, err := t.db.Exec(b.String(), args...)
	return err
}

func rowFields(rec domain.Record) map[string]any {
	out := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		if n, ok := v.Float(); ok {
			out[k] = n
		} else {
			out[k] = v.Raw
		}
	}
	return out
}

var _ ports.Sink = (*TimescaleSink)(nil)
