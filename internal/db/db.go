package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"corpus-rag/internal/index"
	"corpus-rag/internal/models"
)

const backendName = "pgvector"

// Chunk is one row of the chunk table. The table name is chosen at runtime.
type Chunk struct {
	bun.BaseModel `bun:"table:rag_chunks,alias:c"`
	ID            string            `bun:"id,pk"`
	DocumentID    string            `bun:"document_id,notnull"`
	Content       string            `bun:"content,notnull"`
	Offset        int               `bun:"chunk_offset,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	Embedding     Vector            `bun:"embedding,notnull"`
	Score         float64           `bun:"score,scanonly"`
}

// IndexMeta records which embedder filled a chunk table.
type IndexMeta struct {
	bun.BaseModel `bun:"table:rag_index_meta,alias:m"`
	Name          string    `bun:"name,pk"`
	EmbedderID    string    `bun:"embedder_id,notnull"`
	Dimension     int       `bun:"dimension,notnull"`
	Metric        string    `bun:"metric,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a pool with pgdriver, or with lib/pq when driver is "postgres".
func ConnectDB(url, key, driver string) (*sql.DB, error) {
	dsn := url
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}
	if driver == "postgres" {
		return sql.Open("postgres", dsn)
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if key != "" {
		opts = append(opts, pgdriver.WithPassword(key))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// Options configures a pgvector index.
type Options struct {
	Table      string
	EmbedderID string
	Dimension  int
	Metric     string
}

// Store keeps chunks in a Postgres table with a pgvector column. Rows are
// durable, so Save is a no-op and Load only checks the meta row.
type Store struct {
	db   *bun.DB
	opts Options
	// mu serialises writers; Postgres handles concurrent readers
	mu sync.Mutex
}

// NewStore prepares a store. Call InitDB before first use.
func NewStore(db *bun.DB, opts Options) (*Store, error) {
	if opts.Table == "" {
		opts.Table = "rag_chunks"
	}
	if opts.Metric == "" {
		opts.Metric = index.MetricCosine
	}
	if !index.ValidMetric(opts.Metric) {
		return nil, fmt.Errorf("%w: unknown metric %q", models.ErrInvalidConfig, opts.Metric)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: pgvector needs a known embedding dimension", models.ErrInvalidConfig)
	}
	return &Store{db: db, opts: opts}, nil
}

func (s *Store) table() bun.Ident { return bun.Ident(s.opts.Table) }

// InitDB creates the vector extension and both tables.
func (s *Store) InitDB(ctx context.Context) error {
	if _, err := s.db.NewRaw("CREATE EXTENSION IF NOT EXISTS vector").Exec(ctx); err != nil {
		return fmt.Errorf("%w: create extension: %v", models.ErrRetrievalUnavailable, err)
	}
	if _, err := s.db.NewCreateTable().Model((*IndexMeta)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("%w: create meta table: %v", models.ErrRetrievalUnavailable, err)
	}
	_, err := s.db.NewRaw(`CREATE TABLE IF NOT EXISTS ? (
		id text PRIMARY KEY,
		document_id text NOT NULL,
		content text NOT NULL,
		chunk_offset integer NOT NULL,
		metadata jsonb,
		embedding vector(?) NOT NULL
	)`, s.table(), s.opts.Dimension).Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: create chunk table: %v", models.ErrRetrievalUnavailable, err)
	}
	return nil
}

func (s *Store) Dimension() int     { return s.opts.Dimension }
func (s *Store) EmbedderID() string { return s.opts.EmbedderID }

func (s *Store) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := s.db.NewSelect().Model((*Chunk)(nil)).ModelTableExpr("? AS c", s.table()).Count(ctx)
	if err != nil {
		log.Warn().Err(err).Str("table", s.opts.Table).Msg("Failed to count chunks")
		return 0
	}
	return n
}

func (s *Store) meta() *IndexMeta {
	return &IndexMeta{
		Name:       s.opts.Table,
		EmbedderID: s.opts.EmbedderID,
		Dimension:  s.opts.Dimension,
		Metric:     s.opts.Metric,
		UpdatedAt:  time.Now(),
	}
}

func (s *Store) insertQuery(idb bun.IDB, rows *[]Chunk) *bun.InsertQuery {
	return idb.NewInsert().
		Model(rows).
		ModelTableExpr("? AS c", s.table()).
		On("CONFLICT (id) DO UPDATE").
		Set("document_id = EXCLUDED.document_id").
		Set("content = EXCLUDED.content").
		Set("chunk_offset = EXCLUDED.chunk_offset").
		Set("metadata = EXCLUDED.metadata").
		Set("embedding = EXCLUDED.embedding")
}

// Add upserts rows and the meta row in one transaction.
func (s *Store) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if _, err := index.ValidateAdd(chunks, vectors, s.opts.Dimension); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]Chunk, len(chunks))
	for i, ch := range chunks {
		rows[i] = Chunk{
			ID:         ch.ID,
			DocumentID: ch.DocumentID,
			Content:    ch.Text,
			Offset:     ch.Offset,
			Metadata:   ch.Metadata,
			Embedding:  Vector(vectors[i]),
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(s.meta()).
			On("CONFLICT (name) DO UPDATE").
			Set("embedder_id = EXCLUDED.embedder_id").
			Set("dimension = EXCLUDED.dimension").
			Set("metric = EXCLUDED.metric").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx); err != nil {
			return err
		}
		_, err := s.insertQuery(tx, &rows).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: store chunks: %v", models.ErrRetrievalUnavailable, err)
	}
	return nil
}

// searchQuery orders by pgvector distance. Cosine distance <=> becomes
// similarity 1-d; negative inner product <#> becomes its negation.
func (s *Store) searchQuery(query []float32, k int, dest *[]Chunk) *bun.SelectQuery {
	op, score := "<=>", "1 - (c.embedding <=> ?) AS score"
	if s.opts.Metric == index.MetricDot {
		op, score = "<#>", "-(c.embedding <#> ?) AS score"
	}
	return s.db.NewSelect().
		Model(dest).
		ModelTableExpr("? AS c", s.table()).
		Column("id", "document_id", "content", "chunk_offset", "metadata").
		ColumnExpr(score, Vector(query)).
		OrderExpr("c.embedding "+op+" ?", Vector(query)).
		OrderExpr("c.id").
		Limit(k)
}

func (s *Store) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	if err := index.ValidateQuery(query, k, s.opts.Dimension); err != nil {
		return nil, err
	}
	var rows []Chunk
	if err := s.searchQuery(query, k, &rows).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: search: %v", models.ErrRetrievalUnavailable, err)
	}
	hits := make([]models.SearchHit, len(rows))
	for i, r := range rows {
		hits[i] = models.SearchHit{
			ChunkID: r.ID,
			Score:   r.Score,
			Chunk: models.Chunk{
				ID:         r.ID,
				DocumentID: r.DocumentID,
				Text:       r.Content,
				Offset:     r.Offset,
				Metadata:   r.Metadata,
			},
		}
	}
	return hits, nil
}

// Reset drops and recreates the chunk table, so a rebuild may change the
// embedding dimension, and forgets the meta row.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.DropTables(ctx); err != nil {
		return err
	}
	return s.InitDB(ctx)
}

// Save is a no-op: every Add is already committed.
func (s *Store) Save(context.Context, string) error { return nil }

// Load checks that the table was filled by the caller's embedder.
func (s *Store) Load(ctx context.Context, _ string) error {
	var m IndexMeta
	err := s.db.NewSelect().Model(&m).Where("name = ?", s.opts.Table).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: no meta row for table %s", models.ErrIndexNotFound, s.opts.Table)
		}
		return fmt.Errorf("%w: read meta: %v", models.ErrRetrievalUnavailable, err)
	}
	manifest := index.Manifest{EmbedderID: m.EmbedderID, Dimension: m.Dimension, Metric: m.Metric}
	return manifest.Check(backendName, s.opts.EmbedderID, s.opts.Dimension, s.opts.Metric)
}

func (s *Store) dropQuery() *bun.DropTableQuery {
	return s.db.NewDropTable().Model((*Chunk)(nil)).ModelTableExpr("?", s.table()).IfExists()
}

// DropTables removes the chunk table and its meta row.
func (s *Store) DropTables(ctx context.Context) error {
	if _, err := s.dropQuery().Exec(ctx); err != nil {
		return fmt.Errorf("%w: drop table: %v", models.ErrRetrievalUnavailable, err)
	}
	_, err := s.db.NewDelete().Model((*IndexMeta)(nil)).Where("name = ?", s.opts.Table).Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: reset meta: %v", models.ErrRetrievalUnavailable, err)
	}
	return nil
}
