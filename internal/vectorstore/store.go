// Package vectorstore layers named, independently versioned "collections" on
// top of the SIMD-accelerated embedding engine vendored at nicexipi/sqlite-vec.
// A collection corresponds to one (embedding model, embedding dimension) pair;
// looking up a collection that was never created is a distinguishable signal
// (ErrCollectionMissing), not a hard failure, so callers can fall back to a
// legacy collection name the way the retrieval path does.
package vectorstore

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	sqlitevec "github.com/nicexipi/sqlite-vec"
)

// LegacyCollectionName is the flat collection used before per-model
// collections existed. Queries fall back to it when the versioned
// collection has never been populated.
const LegacyCollectionName = "video_chunks"

// ErrCollectionMissing signals that the requested collection has never been
// created (no registry row), distinct from a hard storage failure.
var ErrCollectionMissing = errors.New("vectorstore: collection missing")

// Chunk is a single embeddable unit: a time-windowed transcript chunk.
type Chunk struct {
	ID         string
	VideoID    string
	ChunkIndex int
	Text       string
	Vector     []float64
	StartTime  float64
	EndTime    float64
}

// Result is a scored hit returned from Query.
type Result struct {
	ID         string
	VideoID    string
	ChunkIndex int
	Text       string
	Score      float64
	StartTime  float64
	EndTime    float64
}

var collNamePattern = regexp.MustCompile(`[^a-z0-9_-]+`)

// CollectionName derives the versioned collection name for an embedding
// model and dimension, sanitizing the model name into a safe identifier.
func CollectionName(embedModel string, embedDim int) string {
	sanitized := sanitizeCollectionPart(embedModel)
	return fmt.Sprintf("video_chunks__%s__d%d", sanitized, embedDim)
}

func sanitizeCollectionPart(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	lower = collNamePattern.ReplaceAllString(lower, "_")
	lower = strings.Trim(lower, "_")
	if lower == "" {
		return "default"
	}
	return lower
}

// Store manages a registry of collections, all backed by one shared
// sqlitevec.SQLiteVectorStore instance and its single vector_embeddings
// table, with rows kept apart by collection name (see engineLocked).
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	engines  map[string]*sqlitevec.SQLiteVectorStore
	known    map[string]bool
}

// NewStore creates a Store over db, creating the collection registry table
// if necessary. The shared embedding table is created lazily, the first
// time Upsert or DeleteVideo runs, or Query runs against a registered
// collection.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS vector_collections (
		name       TEXT PRIMARY KEY,
		embed_dim  INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return nil, fmt.Errorf("create vector_collections registry: %w", err)
	}
	s := &Store{db: db, engines: make(map[string]*sqlitevec.SQLiteVectorStore), known: make(map[string]bool)}
	rows, err := db.Query(`SELECT name FROM vector_collections`)
	if err != nil {
		return nil, fmt.Errorf("load vector_collections registry: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			s.known[name] = true
		}
	}
	return s, nil
}

// engineLocked returns (creating if needed) the underlying vector engine.
// Every collection shares the same physical vector_embeddings table; the
// collection name is carried as the PartitionID so rows never mix across
// collections even though they share storage.
func (s *Store) engineLocked() (*sqlitevec.SQLiteVectorStore, error) {
	const key = "_shared"
	if eng, ok := s.engines[key]; ok {
		return eng, nil
	}
	if err := sqlitevec.EnsureTable(s.db); err != nil {
		return nil, err
	}
	eng := sqlitevec.NewSQLiteVectorStore(s.db)
	s.engines[key] = eng
	return eng, nil
}

// Upsert inserts chunks into collection, registering it if new. Deletion of
// stale rows for the video is the caller's responsibility (see DeleteVideo)
// since upsert-in-place would require vector-level diffing this domain
// never needs: a chunk set is always rewritten wholesale on from_scratch.
func (s *Store) Upsert(collection string, embedDim int, videoID string, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineLocked()
	if err != nil {
		return err
	}

	vecChunks := make([]sqlitevec.VectorChunk, 0, len(chunks))
	for _, c := range chunks {
		vecChunks = append(vecChunks, sqlitevec.VectorChunk{
			ChunkText:    c.Text,
			ChunkIndex:   c.ChunkIndex,
			DocumentID:   videoID,
			DocumentName: videoID,
			Vector:       c.Vector,
			PartitionID:  collection,
			StartTime:    c.StartTime,
			EndTime:      c.EndTime,
		})
	}
	if err := eng.Store(collectionDocID(collection, videoID), vecChunks); err != nil {
		return err
	}
	if !s.known[collection] {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO vector_collections (name, embed_dim) VALUES (?, ?)`, collection, embedDim); err != nil {
			return fmt.Errorf("register collection %s: %w", collection, err)
		}
		s.known[collection] = true
	}
	return nil
}

// DeleteVideo removes every chunk belonging to videoID from collection.
// Missing collections are not an error — there is nothing to delete.
func (s *Store) DeleteVideo(collection, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eng, err := s.engineLocked()
	if err != nil {
		return err
	}
	return eng.DeleteByDocID(collectionDocID(collection, videoID))
}

// Query searches collection for the nearest chunks to queryVector, scoped to
// videoID. If collection was never registered, returns ErrCollectionMissing
// so the caller can retry against LegacyCollectionName.
func (s *Store) Query(collection string, videoID string, queryVector []float64, topK int) ([]Result, error) {
	s.mu.Lock()
	known := s.known[collection]
	s.mu.Unlock()
	if !known {
		return nil, ErrCollectionMissing
	}

	s.mu.Lock()
	eng, err := s.engineLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	hits, err := eng.Search(queryVector, topK, -1, collection)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.DocumentID != collectionDocID(collection, videoID) {
			continue
		}
		out = append(out, Result{
			ID:         h.DocumentID,
			VideoID:    videoID,
			ChunkIndex: h.ChunkIndex,
			Text:       h.ChunkText,
			Score:      h.Score,
			StartTime:  h.StartTime,
			EndTime:    h.EndTime,
		})
	}
	return out, nil
}

// collectionDocID namespaces the engine's per-document grouping key by
// collection so the same video_id can coexist across multiple collections
// (e.g. during a re-embed with a new model) without colliding.
func collectionDocID(collection, videoID string) string {
	return collection + ":" + videoID
}
