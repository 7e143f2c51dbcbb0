package rag

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"docchat/internal/chunker"
	"docchat/internal/embedding"
	"docchat/internal/helper"
	"docchat/internal/models"
)

// SessionIndex is the per-session vector store behind the pipeline.
type SessionIndex interface {
	// Ensure creates the session's index if it does not exist yet.
	Ensure(ctx context.Context, sessionID string) error
	// Append stores records atomically: all of them or none.
	Append(ctx context.Context, sessionID string, records []models.Record) error
	// Query returns at most k records, highest similarity first.
	Query(ctx context.Context, sessionID string, vector []float32, k int) ([]models.Result, error)
	Count(ctx context.Context, sessionID string) (int, error)
}

// Generator produces an answer for a fully assembled prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type RAG struct {
	splitter  *chunker.Splitter
	embedder  embeddings.Embedder
	index     SessionIndex
	generator Generator
	topK      int

	now func() time.Time
}

func NewRAG(splitter *chunker.Splitter, embedder embeddings.Embedder, index SessionIndex, generator Generator, topK int) *RAG {
	if topK <= 0 {
		topK = models.DefaultTopK
	}
	return &RAG{
		splitter:  splitter,
		embedder:  embedder,
		index:     index,
		generator: generator,
		topK:      topK,
		now:       time.Now,
	}
}

// Ingest chunks text, embeds every chunk in one call and appends the whole
// batch to the session's index. It returns the number of chunks stored.
// On failure nothing from this call is visible in the session.
func (r *RAG) Ingest(ctx context.Context, sessionID, text, filename string) (int, error) {
	if sessionID == "" {
		return 0, models.Errorf(models.ErrInvalidInput, "session_id required")
	}
	if filename == "" {
		filename = models.DefaultFilename
	}

	if strings.TrimSpace(text) == "" {
		log.Warn().Str("session_id", sessionID).Str("filename", filename).Msg("No text to ingest")
		return 0, r.index.Ensure(ctx, sessionID)
	}

	chunks := r.splitter.Chunks(text)
	vectors, err := embedding.GenerateEmbeddings(ctx, r.embedder, chunks)
	if err != nil {
		return 0, err
	}

	ids := helper.RecordIDs(sessionID, len(chunks))
	uploadedAt := r.now().UTC().Format(time.RFC3339)
	records := make([]models.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = models.Record{
			ID:      ids[i],
			Content: chunk,
			Metadata: map[string]string{
				models.MetaFilename:   filename,
				models.MetaChunkIndex: strconv.Itoa(i),
				models.MetaChunkCount: strconv.Itoa(len(chunks)),
				models.MetaUploadedAt: uploadedAt,
			},
			Embedding: vectors[i],
		}
	}

	if err := r.index.Append(ctx, sessionID, records); err != nil {
		return 0, err
	}

	log.Info().Str("session_id", sessionID).Str("filename", filename).Int("chunks", len(records)).Msg("Ingested document")
	return len(records), nil
}

// Answer retrieves the chunks closest to query and asks the generator to
// answer from them only. A session without matches short-circuits to a fixed
// answer and the generator is not called.
func (r *RAG) Answer(ctx context.Context, sessionID, query string) (*models.Answer, error) {
	if sessionID == "" {
		return nil, models.Errorf(models.ErrInvalidInput, "session_id required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, models.Errorf(models.ErrInvalidInput, "query required")
	}

	queryEmbedding, err := embedding.GenerateQueryEmbedding(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}

	results, err := r.index.Query(ctx, sessionID, queryEmbedding, r.topK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		log.Info().Str("session_id", sessionID).Msg("No records matched query")
		return &models.Answer{Query: query, Content: models.NoRelevantInformation, Sources: []models.Source{}}, nil
	}

	prompt := BuildPrompt(query, results)
	content, err := r.generator.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	sources := make([]models.Source, len(results))
	for i, res := range results {
		src := make(models.Source, len(res.Metadata)+1)
		maps.Copy(src, res.Metadata)
		src[models.MetaScore] = strconv.FormatFloat(float64(res.Similarity), 'f', 4, 32)
		sources[i] = src
	}

	log.Info().Str("session_id", sessionID).Int("sources", len(sources)).Msg("Answered query")
	return &models.Answer{Query: query, Content: content, Sources: sources}, nil
}

// Records reports how many chunks the session holds.
func (r *RAG) Records(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, models.Errorf(models.ErrInvalidInput, "session_id required")
	}
	return r.index.Count(ctx, sessionID)
}

// BuildPrompt lays out the retrieved chunks in rank order, each under the
// name of the file it came from, followed by the question.
func BuildPrompt(query string, results []models.Result) string {
	blocks := make([]string, len(results))
	for i, res := range results {
		filename := res.Metadata[models.MetaFilename]
		if filename == "" {
			filename = models.DefaultFilename
		}
		blocks[i] = fmt.Sprintf(models.ContextBlockTemplate, filename, res.Content)
	}
	return fmt.Sprintf(models.QuestionPromptTemplate, strings.Join(blocks, models.ContextSeparator), query)
}
