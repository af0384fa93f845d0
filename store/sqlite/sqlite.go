/*
Package sqlite provides a SQLite-backed implementation of record.Store.

PURPOSE:
  Lets the points engine run without the hosted database: a single local
  file holds the same JSON tree the REST backend would talk to. Handy for
  development, demos and self-hosting.

LAYOUT:
  The tree is split into documents at depth two:

    <collection>/<doc>/<field...>
    users      /a@b,com/points

  Each document is one row; everything below it lives in the row's JSON
  body. Reads and writes at the root or collection level assemble and
  rewrite the affected rows.

KEY TABLE:
  documents(collection, doc_id, body, updated_at)  PRIMARY KEY(collection, doc_id)

CONCURRENCY:
  Uses sync.Mutex plus a SQL transaction per write so that one call never
  interleaves with another inside this process. This does not make the
  services above atomic: a read followed by a write is still two calls,
  exactly as against the hosted database.

WAL MODE:
  Opened with WAL so readers don't block the single writer.

USAGE:
  store, err := sqlite.New("./points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - record/store.go: Interface definition
  - record/tree.go:  Write semantics applied to each document
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/points-engine/record"
)

// Store implements record.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

var _ record.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, doc_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Reset removes every document. Dev only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	return err
}

// =============================================================================
// RECORD STORE (record.Store interface)
// =============================================================================

// Get returns the subtree at path.
func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := record.CheckPath(path); err != nil {
		return nil, &record.ReadError{Path: path, Status: 400, Err: err}
	}
	segs := record.Split(path)

	tree, err := loadScope(ctx, s.db, segs)
	if err != nil {
		return nil, &record.ReadError{Path: path, Err: err}
	}
	raw, err := record.Encode(tree.Get(segs))
	if err != nil {
		return nil, &record.ReadError{Path: path, Err: err}
	}
	return raw, nil
}

// Put replaces the subtree at path.
func (s *Store) Put(ctx context.Context, path string, value any) (json.RawMessage, error) {
	n, err := record.Normalize(value)
	if err != nil {
		return nil, &record.WriteError{Op: "put", Path: path, Status: 400, Err: err}
	}
	err = s.mutate(ctx, "put", path, func(tree *record.Tree, segs []string) error {
		tree.Set(segs, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	raw, _ := record.Encode(n)
	return raw, nil
}

// Patch merges fields into the subtree at path.
func (s *Store) Patch(ctx context.Context, path string, fields map[string]any) (json.RawMessage, error) {
	var applied map[string]any
	err := s.mutate(ctx, "patch", path, func(tree *record.Tree, segs []string) error {
		var err error
		applied, err = tree.Patch(segs, fields)
		return err
	})
	if err != nil {
		return nil, err
	}
	raw, _ := record.Encode(applied)
	return raw, nil
}

// mutate loads the rows covered by path into a tree, applies fn and writes
// the covered rows back, all in one SQL transaction.
func (s *Store) mutate(ctx context.Context, op, path string, fn func(*record.Tree, []string) error) error {
	if err := record.CheckPath(path); err != nil {
		return &record.WriteError{Op: op, Path: path, Status: 400, Err: err}
	}
	segs := record.Split(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &record.WriteError{Op: op, Path: path, Err: fmt.Errorf("begin: %w", err)}
	}
	defer sqlTx.Rollback()

	tree, err := loadScope(ctx, sqlTx, segs)
	if err != nil {
		return &record.WriteError{Op: op, Path: path, Err: err}
	}
	if err := fn(tree, segs); err != nil {
		return &record.WriteError{Op: op, Path: path, Status: 400, Err: err}
	}
	if err := saveScope(ctx, sqlTx, segs, tree); err != nil {
		return &record.WriteError{Op: op, Path: path, Err: err}
	}
	if err := sqlTx.Commit(); err != nil {
		return &record.WriteError{Op: op, Path: path, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// =============================================================================
// SCOPES - which rows a path touches
// =============================================================================

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// loadScope builds a tree holding every row the path can reach:
// all rows for the root, one collection for depth one, one row otherwise.
func loadScope(ctx context.Context, q querier, segs []string) (*record.Tree, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch len(segs) {
	case 0:
		rows, err = q.QueryContext(ctx, `SELECT collection, doc_id, body FROM documents`)
	case 1:
		rows, err = q.QueryContext(ctx,
			`SELECT collection, doc_id, body FROM documents WHERE collection = ?`, segs[0])
	default:
		rows, err = q.QueryContext(ctx,
			`SELECT collection, doc_id, body FROM documents WHERE collection = ? AND doc_id = ?`,
			segs[0], segs[1])
	}
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	tree := record.NewTree()
	for rows.Next() {
		var collection, docID, body string
		if err := rows.Scan(&collection, &docID, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		v, err := record.Normalize(json.RawMessage(body))
		if err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", collection, docID, err)
		}
		tree.Set([]string{collection, docID}, v)
	}
	return tree, rows.Err()
}

// saveScope writes back every row covered by segs from tree.
func saveScope(ctx context.Context, db execer, segs []string, tree *record.Tree) error {
	now := time.Now().UTC().Format(time.RFC3339)

	switch len(segs) {
	case 0:
		if _, err := db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
			return fmt.Errorf("clear documents: %w", err)
		}
		for collection, docs := range tree.Root() {
			if err := insertCollection(ctx, db, collection, docs, now); err != nil {
				return err
			}
		}
		return nil

	case 1:
		if _, err := db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, segs[0]); err != nil {
			return fmt.Errorf("clear collection: %w", err)
		}
		return insertCollection(ctx, db, segs[0], tree.Get(segs[:1]), now)

	default:
		body := tree.Get(segs[:2])
		if body == nil {
			_, err := db.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND doc_id = ?`, segs[0], segs[1])
			return err
		}
		return upsert(ctx, db, segs[0], segs[1], body, now)
	}
}

func insertCollection(ctx context.Context, db execer, collection string, docs any, now string) error {
	if docs == nil {
		return nil
	}
	m, ok := docs.(map[string]any)
	if !ok {
		return fmt.Errorf("collection %q must hold an object", collection)
	}
	for docID, body := range m {
		if err := upsert(ctx, db, collection, docID, body, now); err != nil {
			return err
		}
	}
	return nil
}

func upsert(ctx context.Context, db execer, collection, docID string, body any, now string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO documents (collection, doc_id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, doc_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, collection, docID, string(data), now)
	if err != nil {
		return fmt.Errorf("upsert document %s/%s: %w", collection, docID, err)
	}
	return nil
}
