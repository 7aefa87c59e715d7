// Package duckstore keeps chunk embeddings in a DuckDB database and ranks
// them with list_cosine_similarity.
package duckstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/vectorstore"
	"github.com/marcboeker/go-duckdb"
)

// Options configures the database connection.
type Options struct {
	// Path of the database file. Empty means an in-memory database.
	Path        string
	MemoryLimit string
	Threads     int
}

// Store implements vectorstore.Store on DuckDB.
type Store struct {
	db   *sql.DB
	path string
}

var _ vectorstore.Store = (*Store)(nil)

// Open creates or opens the database and ensures the schema exists.
func Open(opts Options) (*Store, error) {
	fmt.Printf("[DuckStore] Opening vector database at: %s\n", displayPath(opts.Path))

	connector, err := duckdb.NewConnector(opts.Path, func(execer driver.ExecerContext) error {
		pragmas := []string{"PRAGMA enable_progress_bar=false"}
		if opts.MemoryLimit != "" {
			pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit))
		}
		if opts.Threads > 0 {
			pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d", opts.Threads))
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				fmt.Printf("[DuckStore] Pragma error: %v\n", err)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			name      VARCHAR PRIMARY KEY,
			dimension INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			collection VARCHAR NOT NULL,
			id         VARCHAR NOT NULL,
			idx        INTEGER NOT NULL,
			page       INTEGER NOT NULL,
			page_label VARCHAR,
			source     VARCHAR,
			content    VARCHAR NOT NULL,
			embedding  FLOAT[] NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db, path: opts.Path}, nil
}

func (s *Store) Name() string { return "duckdb" }

func (s *Store) dimension(ctx context.Context, name string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", name, vectorstore.ErrCollectionNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("looking up collection %s: %w", name, err)
	}
	return dim, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, dim int) error {
	existing, err := s.dimension(ctx, name)
	switch {
	case err == nil && existing == dim:
		return nil
	case err == nil:
		return fmt.Errorf("collection %s has dimension %d, requested %d: %w",
			name, existing, dim, vectorstore.ErrDimensionMismatch)
	case !errors.Is(err, vectorstore.ErrCollectionNotFound):
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension) VALUES (?, ?)`, name, dim); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// Upsert replaces rows with the same chunk id and appends the batch with
// the native Appender.
func (s *Store) Upsert(ctx context.Context, name string, chunks []models.Chunk, vectors [][]float32) error {
	dim, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}
	if err := vectorstore.CheckUpsert(chunks, vectors, dim); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	ids := make([]string, len(chunks))
	args := make([]any, 0, len(chunks)+1)
	args = append(args, name)
	for i, c := range chunks {
		ids[i] = "?"
		args = append(args, c.ID)
	}
	del := fmt.Sprintf(`DELETE FROM chunks WHERE collection = ? AND id IN (%s)`, strings.Join(ids, ","))
	if _, err := conn.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("removing previous chunks: %w", err)
	}

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "chunks")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, c := range chunks {
			if err := appender.AppendRow(
				name,
				c.ID,
				int32(c.Index),
				int32(c.Page),
				c.PageLabel,
				c.Source,
				c.Content,
				vectors[i],
			); err != nil {
				return fmt.Errorf("failed to append chunk %s: %w", c.ID, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, name string, vector []float32, topK int) ([]models.SearchResult, error) {
	dim, err := s.dimension(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("query has %d dimensions, want %d: %w", len(vector), dim, vectorstore.ErrDimensionMismatch)
	}
	if topK <= 0 {
		topK = 4
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idx, page, page_label, source, content,
		       list_cosine_similarity(embedding, CAST(? AS FLOAT[])) AS score
		FROM chunks
		WHERE collection = ?
		ORDER BY score DESC, idx ASC
		LIMIT ?`, vectorLiteral(vector), name, topK)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", name, err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var (
			c         models.Chunk
			idx, page int32
			label     sql.NullString
			source    sql.NullString
			score     sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &idx, &page, &label, &source, &c.Content, &score); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		c.Index = int(idx)
		c.Page = int(page)
		c.PageLabel = label.String
		c.Source = source.String
		results = append(results, models.SearchResult{Chunk: c, Score: float32(score.Float64)})
	}
	return results, rows.Err()
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// vectorLiteral renders v as a DuckDB list literal, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v) * 10)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func displayPath(p string) string {
	if p == "" {
		return ":memory:"
	}
	return p
}
