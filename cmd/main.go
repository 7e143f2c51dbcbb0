package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docchat/internal/chromemdb"
	"docchat/internal/chunker"
	"docchat/internal/config"
	"docchat/internal/db"
	"docchat/internal/embedding"
	"docchat/internal/helper"
	"docchat/internal/llmservice"
	"docchat/internal/models"
	"docchat/internal/parser"
	"docchat/internal/rag"
	"docchat/internal/server"
)

const configFilePath = "./configs/config.yaml"

type sessionIndex interface {
	rag.SessionIndex
	Close(ctx context.Context) error
}

type app struct {
	rag       *rag.RAG
	extractor *parser.Extractor
	index     sessionIndex
}

func main() {
	setupLogger(config.LogConfig{Level: "info"})

	configPath := flag.String("config", configFilePath, "Path to the config file")
	serve := flag.Bool("serve", false, "Run the HTTP API (default when no -file or -query is given)")
	filePath := flag.String("file", "", "Path to a document to ingest")
	sessionID := flag.String("session", "", "Session to ingest into or query")
	query := flag.String("query", "", "Question to answer from the session's documents")
	resetDB := flag.Bool("reset-db", false, "Drop all stored records before starting (pgvector only)")
	flag.Parse()

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag, but not both")
	}
	if *query != "" && *sessionID == "" {
		log.Fatal().Msg("The -query flag requires -session")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogger(cfg.Log)
	log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *serve, *filePath, *sessionID, *query, *resetDB); err != nil {
		stop()
		log.Fatal().Err(err).Msg("Exiting")
	}
}

func run(ctx context.Context, cfg *config.Config, serve bool, filePath, sessionID, query string, resetDB bool) error {
	a, err := newApp(ctx, cfg, resetDB)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.index.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("Error closing vector index")
		}
	}()

	if filePath != "" {
		id, err := ingestFile(ctx, a, filePath, sessionID)
		if err != nil {
			return err
		}
		sessionID = id
	}

	if query != "" {
		return answerQuery(ctx, a, sessionID, query)
	}

	if serve || filePath == "" {
		srv := server.New(cfg.Server, a.rag, a.extractor)
		return srv.Run(ctx)
	}
	return nil
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

func newApp(ctx context.Context, cfg *config.Config, resetDB bool) (*app, error) {
	splitter, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("error initializing embedder: %w", err)
	}
	if dim, err := embedding.Dimension(ctx, embedder); err != nil {
		log.Warn().Err(err).Str("model", cfg.EmbedLLM.Model).Msg("Embedding backend not reachable, skipping dimension check")
	} else if dim != cfg.RAG.VectorSize {
		return nil, models.Errorf(models.ErrConfig, "embedding model %s produces %d dimensions, rag.vector_size is %d", cfg.EmbedLLM.Model, dim, cfg.RAG.VectorSize)
	}

	embedder, err = embedding.WithQueryCache(embedder, cfg.RAG.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("error initializing query cache: %w", err)
	}

	generator, err := llmservice.New(&cfg.InferenceLLM)
	if err != nil {
		return nil, fmt.Errorf("error initializing inference llm: %w", err)
	}

	index, err := newIndex(ctx, cfg, resetDB)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("vector_store", cfg.RAG.VectorStore).
		Str("embed_model", cfg.EmbedLLM.Model).
		Str("inference_model", cfg.InferenceLLM.Model).
		Int("chunk_size", splitter.Size()).
		Int("chunk_overlap", splitter.Overlap()).
		Int("top_k", cfg.RAG.TopK).
		Msg("Pipeline ready")

	return &app{
		rag:       rag.NewRAG(splitter, embedder, index, generator, cfg.RAG.TopK),
		extractor: parser.NewDefaultExtractor(),
		index:     index,
	}, nil
}

func newIndex(ctx context.Context, cfg *config.Config, resetDB bool) (sessionIndex, error) {
	switch cfg.RAG.VectorStore {
	case config.StorePGVector:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("error connecting to database: %w", err)
		}
		dbInstance := db.NewDB(sqldb, cfg.Database.Debug)
		if resetDB {
			log.Warn().Msg("Dropping stored documents")
			if err := db.DropDocuments(ctx, dbInstance); err != nil {
				dbInstance.Close()
				return nil, models.Wrap(models.ErrStore, "drop documents", err)
			}
		}
		store, err := db.NewStore(ctx, dbInstance, cfg.RAG.VectorSize)
		if err != nil {
			dbInstance.Close()
			return nil, err
		}
		return store, nil

	case config.StoreChromem:
		if resetDB {
			log.Warn().Msg("-reset-db only applies to the pgvector store, ignoring")
		}
		if !cfg.RAG.InMemory {
			if err := helper.CreateFolder(cfg.RAG.DBPath); err != nil {
				return nil, fmt.Errorf("error creating folder: %w", err)
			}
		}
		return chromemdb.NewVectorDBManager(chromemdb.Options{
			DBPath:        cfg.RAG.DBPath,
			InMemory:      cfg.RAG.InMemory,
			Compress:      cfg.RAG.Compress,
			EncryptionKey: cfg.RAG.EncryptionKey,
			SnapshotPath:  cfg.RAG.SnapshotPath,
			Dimension:     cfg.RAG.VectorSize,
		})

	default:
		return nil, models.Errorf(models.ErrConfig, "unknown vector store %q", cfg.RAG.VectorStore)
	}
}

// ingestFile extracts and ingests a local document, creating a session when
// none is given.
func ingestFile(ctx context.Context, a *app, filePath, sessionID string) (string, error) {
	if !a.extractor.Supports(filePath) {
		return "", models.Errorf(models.ErrInvalidInput, "unsupported file format %s", filePath)
	}
	if sessionID == "" {
		id, err := helper.GenerateUUID()
		if err != nil {
			return "", err
		}
		sessionID = id
	}

	text, err := a.extractor.Extract(ctx, filePath)
	if err != nil {
		return "", fmt.Errorf("error parsing document: %w", err)
	}

	chunks, err := a.rag.Ingest(ctx, sessionID, text, filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("error ingesting document: %w", err)
	}

	log.Info().Str("session_id", sessionID).Int("chunks", chunks).Msg("Document ingested")
	fmt.Printf("%s\n", sessionID)
	return sessionID, nil
}

func answerQuery(ctx context.Context, a *app, sessionID, query string) error {
	response, err := a.rag.Answer(ctx, sessionID, query)
	if err != nil {
		if errors.Is(err, models.ErrGeneration) {
			return fmt.Errorf("error generating answer: %w", err)
		}
		return fmt.Errorf("error querying: %w", err)
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	helper.PrettyPrint(response.Sources)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Content)
	return nil
}
