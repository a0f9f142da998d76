package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/umicp/pkg/envelope"
	"github.com/morezero/umicp/pkg/schema"
)

const repoLogPrefix = "db:repository"

// Repository provides access to the envelope journal and the schema table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a Repository on the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// =========================================================================
// ENVELOPE JOURNAL
// =========================================================================

// SaveEnvelope records a received envelope. raw is the exact serialized form; when nil the
// envelope is serialized again. Saving an already journaled msg_id is a no-op and reports
// false.
func (r *Repository) SaveEnvelope(ctx context.Context, e *envelope.Envelope, raw []byte) (bool, error) {
	if raw == nil {
		var err error
		if raw, err = envelope.Serialize(e); err != nil {
			return false, fmt.Errorf("%s - SaveEnvelope serialize failed: %w", repoLogPrefix, err)
		}
	}

	var schemaURI *string
	if uri, ok := e.SchemaURI(); ok {
		schemaURI = &uri
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO envelopes (msg_id, hash, version, sender, recipient, operation, ts, schema_uri, raw)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (msg_id) DO NOTHING`,
		e.MessageID(), envelope.HashBytes(raw), e.Version(), e.From(), e.To(),
		e.Operation().String(), e.Timestamp(), schemaURI, raw)
	if err != nil {
		return false, fmt.Errorf("%s - SaveEnvelope failed: %w", repoLogPrefix, err)
	}

	inserted := tag.RowsAffected() == 1
	slog.Debug(fmt.Sprintf("%s - SaveEnvelope msg_id=%s inserted=%v", repoLogPrefix, e.MessageID(), inserted))
	return inserted, nil
}

// GetEnvelope returns the journal row for msgID, or nil when absent.
func (r *Repository) GetEnvelope(ctx context.Context, msgID string) (*EnvelopeRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT msg_id, hash, version, sender, recipient, operation, ts, schema_uri, raw, received_at
		 FROM envelopes
		 WHERE msg_id = $1`, msgID)

	rec, err := scanEnvelope(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - GetEnvelope failed: %w", repoLogPrefix, err)
	}
	return rec, nil
}

// LoadEnvelope returns the journaled envelope, decoded and validated, or nil when absent.
func (r *Repository) LoadEnvelope(ctx context.Context, msgID string) (*envelope.Envelope, error) {
	rec, err := r.GetEnvelope(ctx, msgID)
	if err != nil || rec == nil {
		return nil, err
	}
	e, err := envelope.Deserialize(rec.Raw)
	if err != nil {
		return nil, fmt.Errorf("%s - journaled envelope %s is corrupt: %w", repoLogPrefix, msgID, err)
	}
	return e, nil
}

// ListEnvelopes returns the most recently received envelopes matching params.
func (r *Repository) ListEnvelopes(ctx context.Context, params ListEnvelopesParams) ([]EnvelopeRecord, error) {
	limit := params.Limit
	if limit < 1 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT msg_id, hash, version, sender, recipient, operation, ts, schema_uri, raw, received_at
	          FROM envelopes WHERE 1=1`
	args := []any{}
	argIdx := 1

	for _, f := range []struct {
		column string
		value  string
	}{
		{"sender", params.From},
		{"recipient", params.To},
		{"operation", params.Operation},
	} {
		if f.value == "" {
			continue
		}
		query += fmt.Sprintf(` AND %s = $%d`, f.column, argIdx)
		args = append(args, f.value)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY received_at DESC, msg_id LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - ListEnvelopes failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []EnvelopeRecord
	for rows.Next() {
		rec, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("%s - ListEnvelopes scan failed: %w", repoLogPrefix, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanEnvelope(row pgx.Row) (*EnvelopeRecord, error) {
	var rec EnvelopeRecord
	err := row.Scan(&rec.MsgID, &rec.Hash, &rec.Version, &rec.From, &rec.To, &rec.Operation,
		&rec.Timestamp, &rec.SchemaURI, &rec.Raw, &rec.ReceivedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// =========================================================================
// SCHEMA STORE
// =========================================================================

// SaveSchema inserts or replaces a schema definition.
func (r *Repository) SaveSchema(ctx context.Context, def schema.Definition) error {
	compatible := def.CompatibleVersions
	if compatible == nil {
		compatible = []string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO schemas (id, name, version, schema_type, content, compatible_versions, created, modified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   version = EXCLUDED.version,
		   schema_type = EXCLUDED.schema_type,
		   content = EXCLUDED.content,
		   compatible_versions = EXCLUDED.compatible_versions,
		   modified = EXCLUDED.modified`,
		def.ID, def.Name, def.Version, def.Type.String(), def.Content, compatible,
		def.CreatedAt.UTC(), def.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%s - SaveSchema failed: %w", repoLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - SaveSchema id=%s version=%s", repoLogPrefix, def.ID, def.Version))
	return nil
}

// DeleteSchema removes a schema definition.
func (r *Repository) DeleteSchema(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM schemas WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%s - DeleteSchema failed: %w", repoLogPrefix, err)
	}
	return nil
}

// ListSchemas returns every stored definition ordered by id.
func (r *Repository) ListSchemas(ctx context.Context) ([]schema.Definition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, version, schema_type, content, compatible_versions, created, modified
		 FROM schemas ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListSchemas failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []schema.Definition
	for rows.Next() {
		var d schema.Definition
		var typeName string
		if err := rows.Scan(&d.ID, &d.Name, &d.Version, &typeName, &d.Content,
			&d.CompatibleVersions, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s - ListSchemas scan failed: %w", repoLogPrefix, err)
		}
		if d.Type, err = schema.ParseType(typeName); err != nil {
			return nil, fmt.Errorf("%s - schema %s: %w", repoLogPrefix, d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ schema.Store = (*Repository)(nil)
