package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/fedsync/libs/db"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
)

// NotifyChannel is the LISTEN channel fed by the documents trigger.
const NotifyChannel = "documents"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	collection text NOT NULL,
	id text NOT NULL,
	data jsonb NOT NULL DEFAULT '{}'::jsonb,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS documents_collection_created_idx ON documents (collection, created_at);

CREATE OR REPLACE FUNCTION documents_notify() RETURNS trigger AS $$
DECLARE
	rec documents;
BEGIN
	IF TG_OP = 'DELETE' THEN
		rec := OLD;
	ELSE
		rec := NEW;
	END IF;
	PERFORM pg_notify('documents', json_build_object('collection', rec.collection, 'id', rec.id, 'op', TG_OP)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS documents_notify_trg ON documents;
CREATE TRIGGER documents_notify_trg
	AFTER INSERT OR UPDATE OR DELETE ON documents
	FOR EACH ROW EXECUTE FUNCTION documents_notify();
`

// docColumn renders a stored row as one JSON object with the metadata
// columns folded in.
const docColumn = `data || jsonb_build_object('id', id, 'created_at', created_at, 'updated_at', updated_at)`

type Postgres struct {
	pool   *db.Pool
	logger *slog.Logger
}

func NewPostgres(pool *db.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var doc json.RawMessage
	err := p.pool.QueryRow(ctx, `
		SELECT `+docColumn+`
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, failure.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *Postgres) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	return p.Query(ctx, collection, Filter{})
}

func (p *Postgres) Query(ctx context.Context, collection string, f Filter) ([]json.RawMessage, error) {
	sql, args, err := buildQuery(collection, f)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []json.RawMessage{}
	for rows.Next() {
		var doc json.RawMessage
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return docs, nil
}

// buildQuery renders a filter with every caller-supplied value, field names
// included, passed as a parameter.
func buildQuery(collection string, f Filter) (string, []any, error) {
	args := []any{collection}
	var b strings.Builder
	b.WriteString("SELECT " + docColumn + " FROM documents WHERE collection = $1")

	for _, c := range f.Where {
		if c.Field == "" {
			return "", nil, failure.Validation("filter field is required")
		}
		val, err := json.Marshal(c.Value)
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", c.Field, err)
		}
		args = append(args, c.Field, string(val))
		fmt.Fprintf(&b, " AND data -> $%d::text = $%d::jsonb", len(args)-1, len(args))
	}

	switch f.OrderBy {
	case "", "created_at":
		b.WriteString(" ORDER BY created_at")
	case "updated_at":
		b.WriteString(" ORDER BY updated_at")
	default:
		args = append(args, f.OrderBy)
		fmt.Fprintf(&b, " ORDER BY data -> $%d::text", len(args))
	}
	if f.Desc {
		b.WriteString(" DESC")
	}
	b.WriteString(", id")

	if f.Limit > 0 {
		args = append(args, f.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	return b.String(), args, nil
}

func (p *Postgres) Create(ctx context.Context, collection, id string, doc json.RawMessage) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb - 'id' - 'created_at' - 'updated_at')
	`, collection, id, string(doc))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("create %s/%s: %w", collection, id, failure.ErrConflict)
	}
	return err
}

func (p *Postgres) Update(ctx context.Context, collection, id string, fields json.RawMessage) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents
		SET data = data || ($3::jsonb - 'id' - 'created_at' - 'updated_at'),
			updated_at = now()
		WHERE collection = $1 AND id = $2
	`, collection, id, string(fields))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, failure.ErrNotFound)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, failure.ErrNotFound)
	}
	return nil
}

// Subscribe holds one pooled connection in LISTEN for the lifetime of ctx.
// Inserts and updates are re-read so the change carries the full document.
func (p *Postgres) Subscribe(ctx context.Context, collection, id string) (<-chan Change, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer func() {
			unlistenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := conn.Exec(unlistenCtx, "UNLISTEN "+NotifyChannel); err != nil {
				conn.Conn().Close(unlistenCtx)
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("document subscription ended", "collection", collection, "err", err)
				}
				return
			}
			var ch Change
			if err := json.Unmarshal([]byte(n.Payload), &ch); err != nil {
				p.logger.Warn("bad change notification", "payload", n.Payload, "err", err)
				continue
			}
			if !ch.matches(collection, id) {
				continue
			}
			if ch.Op != OpDelete {
				doc, err := p.Get(ctx, ch.Collection, ch.ID)
				switch {
				case errors.Is(err, failure.ErrNotFound):
					ch.Op = OpDelete
				case err != nil:
					if ctx.Err() != nil {
						return
					}
					p.logger.Warn("reload changed document", "collection", ch.Collection, "id", ch.ID, "err", err)
					continue
				default:
					ch.Data = doc
				}
			}
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ Store = (*Postgres)(nil)
