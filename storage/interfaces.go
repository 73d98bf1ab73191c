package storage

import (
	"context"
	"time"

	"github.com/poiesic/veridoc/core"
)

// DocumentRepository stores documents and the per-chunk records derived from them.
// Implementations must be thread-safe and support concurrent access.
type DocumentRepository interface {
	// SaveDocument inserts or replaces a document keyed by its ID.
	// Also maintains the hash index used for deduplication.
	SaveDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)

	// FindDocumentByHash retrieves a document by content hash.
	// Returns ErrNotFound if no document has that hash.
	FindDocumentByHash(ctx context.Context, hash string) (*core.Document, error)

	// ListDocuments returns all documents ordered by upload time.
	ListDocuments(ctx context.Context) ([]*core.Document, error)

	// SaveChunks inserts or replaces chunks keyed by chunk ID.
	SaveChunks(ctx context.Context, chunks ...*core.Chunk) error

	// GetChunks retrieves chunks by ID.
	// Returns only the chunks that exist (no error for missing chunks).
	GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error)

	// ListChunks returns a document's chunks ordered by page and sequence.
	ListChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error)

	// AllChunks returns up to limit chunks with IDs greater than after, ordered by ID.
	// Pass 0 to start from the beginning.
	AllChunks(ctx context.Context, after core.ID, limit int) ([]*core.Chunk, error)

	// SaveResult inserts or replaces the extraction result of a chunk.
	SaveResult(ctx context.Context, result *core.ExtractionResult) error

	// GetResult retrieves the extraction result of a chunk.
	// Returns ErrNotFound if the chunk has no result.
	GetResult(ctx context.Context, chunkID core.ID) (*core.ExtractionResult, error)

	// SaveAuditRecord inserts or replaces the audit record of a RED chunk.
	SaveAuditRecord(ctx context.Context, record *core.AuditRecord) error

	// ListAuditRecords returns the audit records of a document's chunks.
	ListAuditRecords(ctx context.Context, documentID core.ID) ([]*core.AuditRecord, error)

	// DeleteDocumentData removes a document's chunks, results and audit records.
	// The document record itself is kept so its status can be reported.
	DeleteDocumentData(ctx context.Context, documentID core.ID) error

	// Close releases resources.
	Close() error
}

// GraphStore holds canonical entities and relations with chunk provenance.
// All writes are upserts keyed by canonical IDs so they are safe to repeat.
type GraphStore interface {
	// UpsertEntities creates entities or merges the given sources into existing ones.
	// Returns the stored state of every entity.
	UpsertEntities(ctx context.Context, entities ...*core.Entity) ([]*core.Entity, error)

	// UpsertRelations creates relations or merges the given sources into existing ones.
	// Corroboration always equals the number of distinct source chunks.
	UpsertRelations(ctx context.Context, relations ...*core.Relation) ([]*core.Relation, error)

	// GetEntity retrieves an entity by ID.
	// Returns ErrNotFound if the entity doesn't exist.
	GetEntity(ctx context.Context, id core.ID) (*core.Entity, error)

	// FindEntity retrieves an entity by canonical name and type.
	// Returns ErrNotFound if no matching entity exists.
	FindEntity(ctx context.Context, name, entityType string) (*core.Entity, error)

	// FindEntitiesByName returns all entities with the canonical name, of any type.
	FindEntitiesByName(ctx context.Context, name string) ([]*core.Entity, error)

	// AllEntityNames returns the distinct canonical names of all entities.
	AllEntityNames(ctx context.Context) ([]string, error)

	// Generation returns a counter that advances whenever this store adds or
	// removes entities. Callers caching entity names compare it to decide
	// when to reload.
	Generation() uint64

	// Neighbors traverses relations in both directions from the seeds up to depth hops.
	Neighbors(ctx context.Context, seeds []core.ID, depth int) (*core.Subgraph, error)

	// CountByDocument counts entities and relations that cite the document.
	CountByDocument(ctx context.Context, documentID core.ID) (entities, relations int, err error)

	// DeleteByDocument strips the document from all provenance sets and deletes
	// entities and relations left without provenance.
	DeleteByDocument(ctx context.Context, documentID core.ID) error

	// Close releases resources.
	Close() error
}

// VectorStore holds chunk embeddings keyed by chunk ID.
type VectorStore interface {
	// Upsert inserts or replaces points keyed by chunk ID.
	Upsert(ctx context.Context, points ...*core.VectorPoint) error

	// Search finds points similar to the given vector.
	// Returns points with similarity >= minScore, up to limit results,
	// ordered by similarity score (highest first). When kinds are given only
	// points whose payload kind is one of them are considered.
	Search(ctx context.Context, vector []float32, minScore float32, limit int, kinds ...core.ContentKind) ([]*core.VectorMatch, error)

	// CountByDocument counts the points belonging to a document.
	CountByDocument(ctx context.Context, documentID core.ID) (int, error)

	// DeleteByDocument removes every point belonging to a document.
	DeleteByDocument(ctx context.Context, documentID core.ID) error

	// Close releases resources.
	Close() error
}

// CheckpointRepository persists progress of resumable batch jobs.
type CheckpointRepository interface {
	// SaveCheckpoint stores a checkpoint keyed by name.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint loads a checkpoint by name. Returns nil if none was saved.
	LoadCheckpoint(ctx context.Context, name string) (*core.Checkpoint, error)

	// ClearCheckpoint removes a checkpoint.
	ClearCheckpoint(ctx context.Context, name string) error
}

// TaskStore mirrors task snapshots outside the process so that task state
// survives restarts and can be read by other instances.
type TaskStore interface {
	// SaveTask stores a snapshot. A snapshot whose progress is lower than the
	// stored one is refused with ErrStaleWrite.
	SaveTask(ctx context.Context, task *core.Task) error

	// GetTask loads a snapshot by task ID.
	// Returns ErrNotFound if the task is unknown or expired.
	GetTask(ctx context.Context, id string) (*core.Task, error)

	// ListTasks returns all unexpired snapshots ordered by creation time.
	ListTasks(ctx context.Context) ([]*core.Task, error)

	// Close releases resources.
	Close() error
}

// Locker is a named mutual-exclusion lock with expiry.
type Locker interface {
	// Acquire takes the lock if it is free. Returns false if another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Release frees the lock if this holder owns it. Releasing a lock that is
	// not held is not an error.
	Release(ctx context.Context, name string) error
}
