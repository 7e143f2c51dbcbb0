package db

import (
	"context"
	"database/sql"
	"maps"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"docchat/internal/config"
	"docchat/internal/models"
)

const tableName = "session_documents"

// Document is one stored chunk. All sessions share the table and are told
// apart by session_id.
type Document struct {
	bun.BaseModel `bun:"table:session_documents,alias:d"`
	ID            string            `bun:"id,pk"`
	SessionID     string            `bun:"session_id,notnull"`
	Content       string            `bun:"content,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb,notnull"`
	Embedding     pgvector.Vector   `bun:"embedding,type:vector,notnull"`
}

type scoredDocument struct {
	Document `bun:",extend"`
	Distance float64 `bun:"distance"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverPQ:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, models.Wrap(models.ErrStore, "open postgres", err)
		}
		return sqldb, nil
	case config.DriverPGX:
		sqldb, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, models.Wrap(models.ErrStore, "open pgx", err)
		}
		return sqldb, nil
	case config.DriverPGDriver, "":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN))), nil
	default:
		return nil, models.Errorf(models.ErrConfig, "unknown database driver %q", cfg.Driver)
	}
}

// InitDB creates the pgvector extension, the documents table with a fixed
// vector dimension and a cosine HNSW index
func InitDB(ctx context.Context, db *bun.DB, vectorSize int) error {
	stmts := []*bun.RawQuery{
		db.NewRaw("CREATE EXTENSION IF NOT EXISTS vector"),
		db.NewRaw(`CREATE TABLE IF NOT EXISTS ? (
			id text PRIMARY KEY,
			session_id text NOT NULL,
			content text NOT NULL,
			metadata jsonb NOT NULL DEFAULT '{}',
			embedding vector(?) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, bun.Ident(tableName), vectorSize),
		db.NewRaw("CREATE INDEX IF NOT EXISTS ? ON ? (session_id)", bun.Ident(tableName+"_session_idx"), bun.Ident(tableName)),
		db.NewRaw("CREATE INDEX IF NOT EXISTS ? ON ? USING hnsw (embedding vector_cosine_ops)", bun.Ident(tableName+"_embedding_idx"), bun.Ident(tableName)),
	}
	for _, q := range stmts {
		if _, err := q.Exec(ctx); err != nil {
			return models.Wrap(models.ErrStore, "init database", err)
		}
	}
	return nil
}

// drop table documents
func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}

// Store is the Postgres/pgvector implementation of the session index
type Store struct {
	db        *bun.DB
	dimension int
}

// NewStore prepares the schema and returns the store
func NewStore(ctx context.Context, db *bun.DB, vectorSize int) (*Store, error) {
	if vectorSize <= 0 {
		return nil, models.Errorf(models.ErrConfig, "vector dimension must be positive, got %d", vectorSize)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, models.Wrap(models.ErrStore, "ping database", err)
	}
	if err := InitDB(ctx, db, vectorSize); err != nil {
		return nil, err
	}
	return &Store{db: db, dimension: vectorSize}, nil
}

// Ensure is a reachability check; sessions live in one shared table
func (s *Store) Ensure(ctx context.Context, _ string) error {
	if err := s.db.PingContext(ctx); err != nil {
		return models.Wrap(models.ErrStore, "ping database", err)
	}
	return nil
}

// Append stores the batch in a single transaction
func (s *Store) Append(ctx context.Context, sessionID string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]Document, len(records))
	for i, r := range records {
		if r.ID == "" {
			return models.Errorf(models.ErrStore, "record %d has no id", i)
		}
		if len(r.Embedding) != s.dimension {
			return models.Errorf(models.ErrStore, "record %s has %d dimensions, table expects %d", r.ID, len(r.Embedding), s.dimension)
		}
		meta := maps.Clone(r.Metadata)
		if meta == nil {
			meta = map[string]string{}
		}
		docs[i] = Document{
			ID:        r.ID,
			SessionID: sessionID,
			Content:   r.Content,
			Metadata:  meta,
			Embedding: pgvector.NewVector(r.Embedding),
		}
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&docs).Exec(ctx)
		return err
	})
	if err != nil {
		return models.Wrap(models.ErrStore, "insert documents", err)
	}

	log.Debug().Str("session_id", sessionID).Int("records", len(docs)).Msg("Appended records")
	return nil
}

// Query orders by cosine distance, then id, so equal scores keep insertion order
func (s *Store) Query(ctx context.Context, sessionID string, vector []float32, k int) ([]models.Result, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, models.Errorf(models.ErrStore, "query has %d dimensions, table expects %d", len(vector), s.dimension)
	}

	var rows []scoredDocument
	err := s.db.NewSelect().
		Model(&rows).
		ColumnExpr("d.*").
		ColumnExpr("d.embedding <=> ? AS distance", pgvector.NewVector(vector)).
		Where("d.session_id = ?", sessionID).
		OrderExpr("distance ASC, d.id ASC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, models.Wrap(models.ErrStore, "search documents", err)
	}

	out := make([]models.Result, len(rows))
	for i, r := range rows {
		out[i] = models.Result{
			Record: models.Record{
				ID:        r.ID,
				Content:   r.Content,
				Metadata:  r.Metadata,
				Embedding: r.Embedding.Slice(),
			},
			Similarity: float32(1 - r.Distance),
		}
	}
	return out, nil
}

// Count returns the number of records stored for the session
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	n, err := s.db.NewSelect().Model((*Document)(nil)).Where("session_id = ?", sessionID).Count(ctx)
	if err != nil {
		return 0, models.Wrap(models.ErrStore, "count documents", err)
	}
	return n, nil
}

func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}
