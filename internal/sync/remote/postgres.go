package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying Change payloads.
const NotifyChannel = "flowsync_mirror"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS mirror_documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	body JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
`

// PostgresDocuments implements DocumentStore on a single table. Changes are
// announced with pg_notify inside the writing transaction, so subscribers only
// see committed writes.
type PostgresDocuments struct {
	pool *pgxpool.Pool
}

var _ DocumentStore = (*PostgresDocuments)(nil)

// NewPostgres connects to url, verifies the connection and ensures the table
// exists.
func NewPostgres(ctx context.Context, url string) (*PostgresDocuments, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", classifyPostgres(err))
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", classifyPostgres(err))
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create mirror_documents: %w", classifyPostgres(err))
	}

	return &PostgresDocuments{pool: pool}, nil
}

// Ping checks connectivity.
func (s *PostgresDocuments) Ping(ctx context.Context) error {
	return classifyPostgres(s.pool.Ping(ctx))
}

// Close closes the pool.
func (s *PostgresDocuments) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresDocuments) Get(ctx context.Context, collection, id string) (Document, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM mirror_documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&body)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, classifyPostgres(err))
	}
	return decodeDocument(body)
}

func (s *PostgresDocuments) Put(ctx context.Context, collection, id string, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	return s.write(ctx, Change{Collection: collection, ID: id}, `
		INSERT INTO mirror_documents (collection, id, body, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`, collection, id, body)
}

func (s *PostgresDocuments) Delete(ctx context.Context, collection, id string) error {
	return s.write(ctx, Change{Collection: collection, ID: id, Deleted: true},
		`DELETE FROM mirror_documents WHERE collection = $1 AND id = $2`,
		collection, id)
}

// write runs one statement and, if it touched a row, the matching notify in
// the same transaction.
func (s *PostgresDocuments) write(ctx context.Context, change Change, query string, args ...any) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classifyPostgres(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", change.Collection, change.ID, classifyPostgres(err))
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify: %w", classifyPostgres(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", classifyPostgres(err))
	}
	return nil
}

func (s *PostgresDocuments) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT body FROM mirror_documents WHERE collection = $1 ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, classifyPostgres(err))
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, classifyPostgres(err))
		}
		doc, err := decodeDocument(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, classifyPostgres(err))
	}
	return docs, nil
}

// Subscribe holds a dedicated pool connection in LISTEN mode for the lifetime
// of the subscription. A lost connection is reported to onErr and replaced
// with a fresh one; the first notification after that is a Resync change.
func (s *PostgresDocuments) Subscribe(ctx context.Context, collection string, fn func(Change), onErr func(error)) (CancelFunc, error) {
	conn, err := s.listenConn(ctx)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			err := waitNotifications(subCtx, conn, collection, fn)
			releaseListenConn(conn)
			if subCtx.Err() != nil {
				return
			}
			if onErr != nil {
				onErr(fmt.Errorf("%w: listen connection lost: %v", ErrUnavailable, err))
			}

			for conn = nil; conn == nil; {
				select {
				case <-subCtx.Done():
					return
				case <-time.After(resubscribeDelay):
				}
				conn, _ = s.listenConn(subCtx)
			}
			fn(Change{Collection: collection, Resync: true})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (s *PostgresDocuments) listenConn(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", classifyPostgres(err))
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen: %w", classifyPostgres(err))
	}
	return conn, nil
}

// waitNotifications delivers changes for collection until the connection
// fails or ctx is cancelled.
func waitNotifications(ctx context.Context, conn *pgxpool.Conn, collection string, fn func(Change)) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var change Change
		if err := json.Unmarshal([]byte(n.Payload), &change); err != nil {
			continue
		}
		if change.Collection == collection {
			fn(change)
		}
	}
}

func releaseListenConn(conn *pgxpool.Conn) {
	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		// The connection state is unknown; drop it from the pool.
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

// classifyPostgres maps pgx errors onto the package sentinels.
func classifyPostgres(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501", "28P01", "28000":
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return err
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
