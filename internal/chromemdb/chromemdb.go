package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"docchat/internal/models"
)

const collectionPrefix = "session_"

// Options configures the chromem-go backed session index.
type Options struct {
	DBPath        string
	InMemory      bool
	Compress      bool
	EncryptionKey string
	// SnapshotPath is imported on start and written on Close for in-memory databases.
	SnapshotPath string
	Dimension    int
}

// VectorDBManager keeps one chromem collection per session. Every collection
// uses cosine similarity and the dimension fixed in Options.
type VectorDBManager struct {
	db            *chromem.DB
	dbPath        string
	inMemory      bool
	compress      bool
	encryptionKey string
	snapshotPath  string
	dimension     int

	// per session: appends are exclusive, queries never see half a batch
	locks sync.Map
}

// NewVectorDBManager initializes a new vector database manager
func NewVectorDBManager(opts Options) (*VectorDBManager, error) {
	if opts.Dimension <= 0 {
		return nil, models.Errorf(models.ErrConfig, "vector dimension must be positive, got %d", opts.Dimension)
	}

	var db *chromem.DB
	var err error
	if opts.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.DBPath, opts.Compress)
		if err != nil {
			return nil, models.Wrap(models.ErrStore, "create database", err)
		}
	}

	// chromem detects compressed files by their suffix
	if opts.Compress && opts.SnapshotPath != "" && !strings.HasSuffix(opts.SnapshotPath, ".gz") {
		opts.SnapshotPath += ".gz"
	}

	m := &VectorDBManager{
		db:            db,
		dbPath:        opts.DBPath,
		inMemory:      opts.InMemory,
		compress:      opts.Compress,
		encryptionKey: opts.EncryptionKey,
		snapshotPath:  opts.SnapshotPath,
		dimension:     opts.Dimension,
	}
	if err := m.Import(context.Background()); err != nil {
		return nil, err
	}
	return m, nil
}

// CollectionName returns the chromem collection backing a session
func CollectionName(sessionID string) string {
	return collectionPrefix + sessionID
}

// records always carry their embedding, the collection never embeds on its own
func refuseEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("chromemdb: documents must be added with an embedding")
}

func (m *VectorDBManager) sessionLock(sessionID string) *sync.RWMutex {
	mu, _ := m.locks.LoadOrStore(sessionID, &sync.RWMutex{})
	return mu.(*sync.RWMutex)
}

// create or read collection
func (m *VectorDBManager) getOrCreateCollection(sessionID string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(CollectionName(sessionID), map[string]string{"hnsw:space": "cosine"}, refuseEmbedding)
	if err != nil {
		return nil, models.Wrap(models.ErrStore, "create/get collection", err)
	}
	return c, nil
}

// Ensure creates the session collection if it does not exist yet
func (m *VectorDBManager) Ensure(_ context.Context, sessionID string) error {
	_, err := m.getOrCreateCollection(sessionID)
	return err
}

// Append adds a batch of records to the session. Either the whole batch
// becomes visible or, on error, none of it does.
func (m *VectorDBManager) Append(ctx context.Context, sessionID string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	ids := make([]string, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if r.ID == "" {
			return models.Errorf(models.ErrStore, "record %d has no id", i)
		}
		if _, ok := seen[r.ID]; ok {
			return models.Errorf(models.ErrStore, "duplicate record id %s in batch", r.ID)
		}
		seen[r.ID] = struct{}{}
		if len(r.Embedding) != m.dimension {
			return models.Errorf(models.ErrStore, "record %s has %d dimensions, collection expects %d", r.ID, len(r.Embedding), m.dimension)
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  maps.Clone(r.Metadata),
			Embedding: r.Embedding,
		}
		ids[i] = r.ID
	}

	mu := m.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	c, err := m.getOrCreateCollection(sessionID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := c.GetByID(ctx, id); err == nil {
			return models.Errorf(models.ErrStore, "record id %s already exists in session %s", id, sessionID)
		}
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		// drop whatever part of the batch already landed
		if derr := c.Delete(context.WithoutCancel(ctx), nil, nil, ids...); derr != nil {
			log.Error().Err(derr).Str("session_id", sessionID).Msg("Failed to roll back partial batch")
		}
		return models.Wrap(models.ErrStore, "add documents", err)
	}

	log.Debug().Str("session_id", sessionID).Int("records", len(docs)).Int("total", c.Count()).Msg("Appended records")
	return nil
}

// Query returns the k records most similar to vector, best first. Records
// with equal similarity keep insertion (id) order. Unknown or empty sessions
// yield no results.
func (m *VectorDBManager) Query(ctx context.Context, sessionID string, vector []float32, k int) ([]models.Result, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != m.dimension {
		return nil, models.Errorf(models.ErrStore, "query has %d dimensions, collection expects %d", len(vector), m.dimension)
	}

	mu := m.sessionLock(sessionID)
	mu.RLock()
	defer mu.RUnlock()

	c := m.db.GetCollection(CollectionName(sessionID), refuseEmbedding)
	if c == nil {
		return nil, nil
	}
	n := c.Count()
	if n == 0 {
		return nil, nil
	}

	// rank the whole collection so ties at the cut-off are resolved the same way every time
	res, err := c.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, models.Wrap(models.ErrStore, "query by similarity", err)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Similarity != res[j].Similarity {
			return res[i].Similarity > res[j].Similarity
		}
		return res[i].ID < res[j].ID
	})
	if len(res) > k {
		res = res[:k]
	}

	out := make([]models.Result, len(res))
	for i, r := range res {
		out[i] = models.Result{
			Record: models.Record{
				ID:        r.ID,
				Content:   r.Content,
				Metadata:  r.Metadata,
				Embedding: r.Embedding,
			},
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

// Count returns the number of records stored for the session
func (m *VectorDBManager) Count(_ context.Context, sessionID string) (int, error) {
	mu := m.sessionLock(sessionID)
	mu.RLock()
	defer mu.RUnlock()

	c := m.db.GetCollection(CollectionName(sessionID), refuseEmbedding)
	if c == nil {
		return 0, nil
	}
	return c.Count(), nil
}

// export to file
func (m *VectorDBManager) Export(_ context.Context) error {
	if !m.inMemory || m.snapshotPath == "" {
		return nil
	}

	log.Debug().Str("file", m.snapshotPath).Bool("compress", m.compress).Int("collections", len(m.db.ListCollections())).Msg("Exporting collections")
	if err := m.db.ExportToFile(m.snapshotPath, m.compress, m.encryptionKey); err != nil {
		return models.Wrap(models.ErrStore, "export database", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(_ context.Context) error {
	if !m.inMemory || m.snapshotPath == "" {
		return nil
	}
	if _, err := os.Stat(m.snapshotPath); errors.Is(err, os.ErrNotExist) {
		log.Info().Str("file", m.snapshotPath).Msg("No snapshot to import")
		return nil
	}

	if err := m.db.ImportFromFile(m.snapshotPath, m.encryptionKey); err != nil {
		return models.Wrap(models.ErrStore, "import database", err)
	}
	log.Info().Str("file", m.snapshotPath).Int("collections", len(m.db.ListCollections())).Msg("Imported snapshot")
	return nil
}

// Close writes the snapshot of an in-memory database. Persistent databases
// are written on every insert and need no flush.
func (m *VectorDBManager) Close(ctx context.Context) error {
	if err := m.Export(ctx); err != nil {
		return fmt.Errorf("failed to close vector database: %w", err)
	}
	return nil
}
