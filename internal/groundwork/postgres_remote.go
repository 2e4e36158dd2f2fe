package groundwork

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresRemoteTableName        = "groundwork_projects"
	postgresRemoteOperationTimeout = 10 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresRemote is a RemoteTransport backed by a shared Postgres database.
// Each document is one row with its full payload as JSONB; ownership is a
// plain owner_id column checked on every statement. The connection is opened
// lazily on first use so construction never blocks startup.
type PostgresRemote struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresRemote(dsn string) *PostgresRemote {
	return &PostgresRemote{
		dsn:       strings.TrimSpace(dsn),
		tableName: postgresRemoteTableName,
		openDB:    sql.Open,
	}
}

func (r *PostgresRemote) Pull(ctx context.Context, ownerID string) ([]Document, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: empty owner id", ErrInvalidInput)
	}
	if err := r.ensureReady(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresRemoteOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT data FROM %s WHERE owner_id = $1 ORDER BY updated_at DESC",
		postgresQuoteIdentifier(r.tableName),
	)
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("pull documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		var doc Document
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, fmt.Errorf("decode document row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pull documents: %w", err)
	}
	return docs, nil
}

func (r *PostgresRemote) Push(ctx context.Context, docs []Document, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: empty owner id", ErrInvalidInput)
	}
	if len(docs) == 0 {
		return nil
	}
	if err := r.ensureReady(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresRemoteOperationTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin push: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, name, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
		WHERE %s.owner_id = EXCLUDED.owner_id`,
		postgresQuoteIdentifier(r.tableName),
		postgresQuoteIdentifier(r.tableName),
	)
	for _, doc := range docs {
		row := doc.Clone()
		row.OwnerID = ownerID
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", row.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query, row.ID, ownerID, row.Name, payload, row.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("push document %s: %w", row.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit push: %w", err)
	}
	committed = true
	return nil
}

func (r *PostgresRemote) Remove(ctx context.Context, id, ownerID string) error {
	if id == "" || ownerID == "" {
		return fmt.Errorf("%w: empty id or owner id", ErrInvalidInput)
	}
	if err := r.ensureReady(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresRemoteOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"DELETE FROM %s WHERE id = $1 AND owner_id = $2",
		postgresQuoteIdentifier(r.tableName),
	)
	if _, err := r.db.ExecContext(ctx, query, id, ownerID); err != nil {
		return fmt.Errorf("remove document %s: %w", id, err)
	}
	return nil
}

func (r *PostgresRemote) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *PostgresRemote) ensureReady() error {
	if r == nil || r.dsn == "" {
		return ErrInvalidInput
	}
	r.initOnce.Do(func() {
		db, err := r.openDB("postgres", r.dsn)
		if err != nil {
			r.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresRemoteOperationTimeout)
		defer cancel()

		createTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				data JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(r.tableName))
		if _, err := db.ExecContext(ctx, createTable); err != nil {
			_ = db.Close()
			r.initErr = err
			return
		}
		indexName := r.tableName + "_owner_updated_idx"
		createIndex := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (owner_id, updated_at DESC)",
			postgresQuoteIdentifier(indexName),
			postgresQuoteIdentifier(r.tableName),
		)
		if _, err := db.ExecContext(ctx, createIndex); err != nil {
			_ = db.Close()
			r.initErr = err
			return
		}
		r.db = db
	})
	return r.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
