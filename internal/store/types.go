// Package store provides the persistence layer: a SQLite metadata
// database, an HNSW vector index, and a BM25 keyword index over
// extracted symbols.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound wraps every "no such document" error GetDocument and
// DeleteDocument return, so callers can classify it with errors.Is
// instead of matching error message text.
var ErrNotFound = errors.New("document not found")

// DocumentKind is the kind of an indexed document.
type DocumentKind string

const (
	DocumentKindMarkdown DocumentKind = "markdown"
	DocumentKindCode     DocumentKind = "code"
)

// Document is one row per indexed file.
type Document struct {
	ID          int64
	Path        string // root-relative, forward-slash, unique
	Kind        DocumentKind
	Hash        string // SHA-256 of raw bytes
	Size        int64
	ModTime     time.Time
	IndexedAt   time.Time
	Language    string
	FrontMatter string // YAML text, optional
}

// Chunk is a contiguous slice of a document's text.
type Chunk struct {
	ID        int64
	DocID     int64
	Ord       int // ordinal within document, ascending
	ByteStart int
	ByteEnd   int
	Text      string
	Heading   string // Markdown heading path, optional
	SymbolID  *int64 // code symbol reference, optional
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SymbolKind is the kind of a code symbol.
type SymbolKind string

const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindMethod    SymbolKind = "method"
	SymbolKindClass     SymbolKind = "class"
	SymbolKindStruct    SymbolKind = "struct"
	SymbolKindInterface SymbolKind = "interface"
	SymbolKindEnum      SymbolKind = "enum"
	SymbolKindModule    SymbolKind = "module"
	SymbolKindConst     SymbolKind = "const"
)

// Symbol is a code entity extracted from a syntax tree.
type Symbol struct {
	ID        int64
	DocID     int64
	Kind      SymbolKind
	Name      string
	QName     string // dot-joined enclosing symbols
	ParentID  *int64 // containing symbol, same document
	ByteStart int
	ByteEnd   int
	LineStart int
	LineEnd   int
	Doc       string // leading doc-comment text
	Signature string
}

// RelationKind is the kind of a directed edge between two symbols.
type RelationKind string

const (
	RelationCalls      RelationKind = "calls"
	RelationImports    RelationKind = "imports"
	RelationInherits   RelationKind = "inherits"
	RelationImplements RelationKind = "implements"
	RelationReferences RelationKind = "references"
)

// Relation is a directed edge between two symbols.
type Relation struct {
	ID          int64
	SrcSymbolID int64
	DstName     string // referenced identifier, possibly unresolved
	DstSymbolID *int64
	Kind        RelationKind
}

// DictionaryEntry is a cross-language term mapping.
type DictionaryEntry struct {
	ID         int64
	Source     string // CJK identifier or phrase
	Target     string // ASCII/English identifier
	Freq       int
	FirstDocID int64
}

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// ChunkInsert is a chunk plus the embedding vector it pairs with,
// as submitted to UpsertDocument before ids are assigned.
type ChunkInsert struct {
	Ord       int
	ByteStart int
	ByteEnd   int
	Text      string
	Heading   string
	SymbolRef int // index into the symbols slice passed to UpsertDocument, -1 if none
	Vector    []float32
}

// RelationInsert is a relation submitted to UpsertDocument before symbol
// ids are assigned; SrcSymbolRef indexes the symbols slice passed
// alongside it.
type RelationInsert struct {
	SrcSymbolRef int
	DstName      string
	Kind         RelationKind
}

// SimilarityFilter narrows a similarity search by document metadata.
type SimilarityFilter struct {
	DirectoryPrefix string
	FilenameGlob    string
	Kind            DocumentKind
	Language        string
}

// SimilarityResult is one hit from a similarity search.
type SimilarityResult struct {
	ChunkID int64
	DocPath string
	Score   float32 // 1 - cosine_distance
	Snippet string
	Heading string // Markdown heading path, empty for code chunks without one
	QName   string // enclosing symbol's qualified name, empty if the chunk has none
}

// RelationDirection selects which edges FindSymbolRelations returns.
type RelationDirection string

const (
	DirectionOutgoing RelationDirection = "outgoing"
	DirectionIncoming RelationDirection = "incoming"
	DirectionBoth     RelationDirection = "both"
)

// RelatedSymbol is one hit from FindSymbolRelations.
type RelatedSymbol struct {
	RelationKind RelationKind
	OtherID      *int64
	OtherName    string
	OtherPath    string // empty if OtherID is nil
}

// FileStat is the (hash, mtime) tuple the Sync Engine diffs against the
// filesystem.
type FileStat struct {
	DocID   int64
	Hash    string
	ModTime time.Time
}

// ErrSchemaMismatch indicates a vector blob length did not equal 4*D.
type ErrSchemaMismatch struct {
	Expected int
	Got      int
}

func (e ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch: expected vector of %d bytes, got %d", e.Expected, e.Got)
}

// Store is the persistence layer's full contract: document/chunk/symbol
// CRUD, similarity search, keyword symbol search, and relation lookup.
type Store interface {
	// UpsertDocument deletes any existing document at doc.Path (cascading
	// to its chunks, symbols, and relations), then inserts doc together
	// with chunks, symbols, and relations in one transaction. Returns the
	// document with its assigned ID.
	UpsertDocument(ctx context.Context, doc *Document, chunks []*ChunkInsert, symbols []*Symbol, relations []*RelationInsert) (*Document, error)

	GetDocument(ctx context.Context, path string) (*Document, error)
	ListDocuments(ctx context.Context, cursor string, limit int) ([]*Document, string, error)
	DeleteDocument(ctx context.Context, path string) error

	// AllFileStats returns (hash, mtime) for every document, for the Sync
	// Engine's filesystem set-difference.
	AllFileStats(ctx context.Context) (map[string]FileStat, error)

	SimilaritySearch(ctx context.Context, query []float32, k int, filter SimilarityFilter) ([]*SimilarityResult, error)
	SearchSymbols(ctx context.Context, keywords []string, kind SymbolKind, limit int) ([]*Symbol, error)
	FindSymbolRelations(ctx context.Context, symbolID int64, direction RelationDirection, kinds []RelationKind) ([]*RelatedSymbol, error)

	UpsertDictionaryEntries(ctx context.Context, entries []*DictionaryEntry) error
	ListDictionaryEntries(ctx context.Context, limit int) ([]*DictionaryEntry, error)

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	DB() any // underlying *sql.DB, for admin/debug tooling
	Close() error
}

// BM25Doc is a unit of text submitted to a BM25Index: for ragmcp this is
// always a symbol's (name, qname, doc) concatenation, keyed by symbol id.
type BM25Doc struct {
	ID      string
	Content string
}

// BM25Result is a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search over BM25Docs, used here as the
// candidate-recall layer under keyword symbol search.
type BM25Index interface {
	Index(ctx context.Context, docs []*BM25Doc) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures a BM25Index.
type BM25Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains programming keywords to filter out.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorResult is a single vector search result.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" or "l2"
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              16,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides approximate nearest-neighbor search over
// embeddings. It is a recall pre-filter: the Store re-scores its
// candidates with the exact SQL cosine function before truncating.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'ragmcp index --rebuild')", e.Expected, e.Got)
}
