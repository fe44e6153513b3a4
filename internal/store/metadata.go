package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// StoreConfig configures a SQLiteStore.
type StoreConfig struct {
	// CacheSizeMB is the SQLite page cache size. 0 uses the default (64MB).
	CacheSizeMB int
	// Dimensions is the embedding width; it sizes the HNSW index and
	// validates every vector passed to UpsertDocument.
	Dimensions int
	// BM25Backend selects the symbol-search candidate-recall backend:
	// "sqlite" (FTS5, default) or "bleve".
	BM25Backend string
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		CacheSizeMB: 64,
		Dimensions:  384,
		BM25Backend: "sqlite",
	}
}

// SQLiteStore is the Store implementation: a SQLite metadata database, an
// HNSW vector index, and a BM25 symbol index, all rooted at the same data
// directory.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	dir    string
	config StoreConfig

	vectors     VectorStore
	vectorPath  string
	symbols     BM25Index
	symbolsPath string

	closed bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a metadata database at path using the
// default configuration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(path, DefaultStoreConfig())
}

// NewSQLiteStoreWithConfig opens (or creates) a metadata database at path,
// together with the HNSW vector index and BM25 symbol index that live
// alongside it in the same directory.
func NewSQLiteStoreWithConfig(path string, cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.CacheSizeMB <= 0 {
		cfg.CacheSizeMB = DefaultStoreConfig().CacheSizeMB
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultStoreConfig().Dimensions
	}
	if cfg.BM25Backend == "" {
		cfg.BM25Backend = "sqlite"
	}

	if err := registerVecFuncs(); err != nil {
		return nil, fmt.Errorf("registering vec_cosine_score: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
	}

	if err := validateMetadataIntegrity(path); err != nil {
		slog.Warn("metadata_db_corrupted",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("metadata db corrupted at %s and cannot remove: %w (original error: %v)", path, rmErr, err)
		}
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")
		slog.Info("metadata_db_cleared", slog.String("path", path), slog.String("reason", "corruption detected, please reindex"))
	}

	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeMB*1024),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		dir:    dir,
		config: cfg,
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	if path != ":memory:" {
		s.vectorPath = filepath.Join(dir, "vectors.hnsw")
		vectors, err := NewHNSWStore(DefaultVectorStoreConfig(cfg.Dimensions))
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating vector store: %w", err)
		}
		if fileExists(s.vectorPath) {
			if err := vectors.Load(s.vectorPath); err != nil {
				slog.Warn("vector_index_load_failed", slog.String("error", err.Error()))
			}
		}
		s.vectors = vectors

		s.symbolsPath = GetBM25IndexPath(dir, cfg.BM25Backend)
		symbols, err := NewBM25IndexWithBackend(filepath.Join(dir, "bm25"), DefaultBM25Config(), cfg.BM25Backend)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating symbol index: %w", err)
		}
		s.symbols = symbols
	} else {
		vectors, err := NewHNSWStore(DefaultVectorStoreConfig(cfg.Dimensions))
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating vector store: %w", err)
		}
		s.vectors = vectors
		symbols, err := NewBM25IndexWithBackend("", DefaultBM25Config(), cfg.BM25Backend)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating symbol index: %w", err)
		}
		s.symbols = symbols
	}

	return s, nil
}

func validateMetadataIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	hash TEXT NOT NULL,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	indexed_at INTEGER NOT NULL,
	lang TEXT NOT NULL DEFAULT '',
	front_matter TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	ord INTEGER NOT NULL,
	byte_start INTEGER NOT NULL,
	byte_end INTEGER NOT NULL,
	text TEXT NOT NULL,
	heading TEXT NOT NULL DEFAULT '',
	symbol_id INTEGER,
	embedding BLOB,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);

CREATE TABLE IF NOT EXISTS symbols (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	qname TEXT NOT NULL,
	parent_id INTEGER,
	byte_start INTEGER NOT NULL,
	byte_end INTEGER NOT NULL,
	line_start INTEGER NOT NULL,
	line_end INTEGER NOT NULL,
	doc TEXT NOT NULL DEFAULT '',
	signature TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_symbols_doc_id ON symbols(doc_id);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

CREATE TABLE IF NOT EXISTS relations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	src_symbol_id INTEGER NOT NULL,
	dst_name TEXT NOT NULL,
	dst_symbol_id INTEGER,
	kind TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relations_src ON relations(src_symbol_id);
CREATE INDEX IF NOT EXISTS idx_relations_dst ON relations(dst_symbol_id);
CREATE INDEX IF NOT EXISTS idx_relations_dst_name ON relations(dst_name);

CREATE TABLE IF NOT EXISTS word_mapping (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	freq INTEGER NOT NULL DEFAULT 1,
	first_doc_id INTEGER NOT NULL,
	UNIQUE(source, target)
);

CREATE TABLE IF NOT EXISTS kv_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(metadataSchema)
	return err
}

// DB returns the underlying *sql.DB, for admin/debug tooling.
func (s *SQLiteStore) DB() any {
	return s.db
}

// Close releases the database connection and the vector/symbol indexes,
// persisting both to disk first.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.vectorPath != "" {
		if err := s.vectors.Save(s.vectorPath); err != nil {
			errs = append(errs, fmt.Errorf("saving vector index: %w", err))
		}
	}
	if err := s.vectors.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing vector index: %w", err))
	}
	if s.symbolsPath != "" {
		if err := s.symbols.Save(s.symbolsPath); err != nil {
			errs = append(errs, fmt.Errorf("saving symbol index: %w", err))
		}
	}
	if err := s.symbols.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing symbol index: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %v", errs)
	}
	return nil
}

// UpsertDocument deletes any existing document at doc.Path (cascading to
// its chunks, symbols, and relations, including their vector and symbol
// index entries), then inserts doc together with chunks, symbols, and
// relations in one transaction.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *Document, chunks []*ChunkInsert, symbols []*Symbol, relations []*RelationInsert) (*Document, error) {
	for _, c := range chunks {
		if len(c.Vector) != s.config.Dimensions {
			return nil, ErrSchemaMismatch{Expected: 4 * s.config.Dimensions, Got: 4 * len(c.Vector)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var oldDocID int64
	var hadOld bool
	err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE path = ?`, doc.Path).Scan(&oldDocID)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("lookup existing document: %w", err)
	default:
		hadOld = true
	}

	var oldChunkIDs []string
	var oldSymbolIDs []string
	if hadOld {
		oldChunkIDs, err = queryIDStrings(ctx, tx, `SELECT id FROM chunks WHERE doc_id = ?`, oldDocID)
		if err != nil {
			return nil, err
		}
		oldSymbolIDs, err = queryIDStrings(ctx, tx, `SELECT id FROM symbols WHERE doc_id = ?`, oldDocID)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, oldDocID); err != nil {
			return nil, fmt.Errorf("delete old document: %w", err)
		}
	}

	now := doc.IndexedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (path, kind, hash, size, mtime, indexed_at, lang, front_matter)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Path, string(doc.Kind), doc.Hash, doc.Size, doc.ModTime.UTC().Unix(), now.Unix(), doc.Language, doc.FrontMatter)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	symbolIDs := make([]int64, len(symbols))
	for i, sym := range symbols {
		var parentID any
		if sym.ParentID != nil {
			if *sym.ParentID >= 0 && int(*sym.ParentID) < len(symbolIDs) {
				parentID = symbolIDs[*sym.ParentID]
			}
		}
		sres, err := tx.ExecContext(ctx,
			`INSERT INTO symbols (doc_id, kind, name, qname, parent_id, byte_start, byte_end, line_start, line_end, doc, signature)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			docID, string(sym.Kind), sym.Name, sym.QName, parentID, sym.ByteStart, sym.ByteEnd, sym.LineStart, sym.LineEnd, sym.Doc, sym.Signature)
		if err != nil {
			return nil, fmt.Errorf("insert symbol %q: %w", sym.Name, err)
		}
		id, err := sres.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
		symbolIDs[i] = id
	}

	chunkIDs := make([]string, 0, len(chunks))
	chunkVectors := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		var symbolID any
		if c.SymbolRef >= 0 && c.SymbolRef < len(symbolIDs) {
			symbolID = symbolIDs[c.SymbolRef]
		}
		blob := vectorToBlob(c.Vector)
		cres, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (doc_id, ord, byte_start, byte_end, text, heading, symbol_id, embedding, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			docID, c.Ord, c.ByteStart, c.ByteEnd, c.Text, c.Heading, symbolID, blob, now.Unix(), now.Unix())
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", c.Ord, err)
		}
		id, err := cres.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
		chunkIDs = append(chunkIDs, strconv.FormatInt(id, 10))
		chunkVectors = append(chunkVectors, c.Vector)
	}

	// Targets declared in this same document are resolved by qname now;
	// the rest keep a NULL dst_symbol_id and are resolved at query time.
	qnameIDs := make(map[string]int64, len(symbols))
	for i, sym := range symbols {
		if _, seen := qnameIDs[sym.QName]; !seen && sym.QName != "" {
			qnameIDs[sym.QName] = symbolIDs[i]
		}
	}
	for _, r := range relations {
		if r.SrcSymbolRef < 0 || r.SrcSymbolRef >= len(symbolIDs) {
			continue
		}
		var dstID any
		if id, ok := qnameIDs[r.DstName]; ok {
			dstID = id
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relations (doc_id, src_symbol_id, dst_name, dst_symbol_id, kind) VALUES (?, ?, ?, ?, ?)`,
			docID, symbolIDs[r.SrcSymbolRef], r.DstName, dstID, string(r.Kind)); err != nil {
			return nil, fmt.Errorf("insert relation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if hadOld && len(oldChunkIDs) > 0 {
		if err := s.vectors.Delete(ctx, oldChunkIDs); err != nil {
			slog.Warn("vector_delete_failed", slog.String("error", err.Error()))
		}
	}
	if hadOld && len(oldSymbolIDs) > 0 {
		if err := s.symbols.Delete(ctx, oldSymbolIDs); err != nil {
			slog.Warn("symbol_index_delete_failed", slog.String("error", err.Error()))
		}
	}
	if len(chunkIDs) > 0 {
		if err := s.vectors.Add(ctx, chunkIDs, chunkVectors); err != nil {
			return nil, fmt.Errorf("add vectors: %w", err)
		}
	}
	if len(symbols) > 0 {
		bm25docs := make([]*BM25Doc, len(symbols))
		for i, sym := range symbols {
			bm25docs[i] = &BM25Doc{
				ID:      strconv.FormatInt(symbolIDs[i], 10),
				Content: sym.Name + " " + sym.QName + " " + sym.Doc,
			}
		}
		if err := s.symbols.Index(ctx, bm25docs); err != nil {
			return nil, fmt.Errorf("index symbols: %w", err)
		}
	}

	doc.ID = docID
	doc.IndexedAt = now
	return doc, nil
}

func queryIDStrings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return ids, rows.Err()
}

// GetDocument fetches a document by path.
func (s *SQLiteStore) GetDocument(ctx context.Context, path string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanDocument(ctx, `SELECT id, path, kind, hash, size, mtime, indexed_at, lang, front_matter FROM documents WHERE path = ?`, path)
}

func (s *SQLiteStore) scanDocument(ctx context.Context, query string, args ...any) (*Document, error) {
	var d Document
	var kind string
	var mtime, indexedAt int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&d.ID, &d.Path, &kind, &d.Hash, &d.Size, &mtime, &indexedAt, &d.Language, &d.FrontMatter)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, args[len(args)-1])
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Kind = DocumentKind(kind)
	d.ModTime = time.Unix(mtime, 0).UTC()
	d.IndexedAt = time.Unix(indexedAt, 0).UTC()
	return &d, nil
}

// ListDocuments returns a page of documents ordered by id, using a
// base64 "offset:N" cursor.
func (s *SQLiteStore) ListDocuments(ctx context.Context, cursor string, limit int) ([]*Document, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	offset := 0
	if cursor != "" {
		raw, err := base64.StdEncoding.DecodeString(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		parts := strings.SplitN(string(raw), ":", 2)
		if len(parts) != 2 || parts[0] != "offset" {
			return nil, "", fmt.Errorf("invalid cursor format")
		}
		offset, err = strconv.Atoi(parts[1])
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor offset: %w", err)
		}
		if offset < 0 {
			return nil, "", fmt.Errorf("invalid cursor: offset must be non-negative")
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, kind, hash, size, mtime, indexed_at, lang, front_matter FROM documents ORDER BY id LIMIT ? OFFSET ?`,
		limit+1, offset)
	if err != nil {
		return nil, "", fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		var kind string
		var mtime, indexedAt int64
		if err := rows.Scan(&d.ID, &d.Path, &kind, &d.Hash, &d.Size, &mtime, &indexedAt, &d.Language, &d.FrontMatter); err != nil {
			return nil, "", err
		}
		d.Kind = DocumentKind(kind)
		d.ModTime = time.Unix(mtime, 0).UTC()
		d.IndexedAt = time.Unix(indexedAt, 0).UTC()
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(docs) > limit {
		docs = docs[:limit]
		next = base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("offset:%d", offset+limit)))
	}
	return docs, next, nil
}

// DeleteDocument removes a document and, via ON DELETE CASCADE, its
// chunks, symbols, and relations, plus their vector and symbol index
// entries.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM documents WHERE path = ?`, path).Scan(&docID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("lookup document: %w", err)
	}

	chunkIDs, err := queryIDStringsDB(ctx, s.db, `SELECT id FROM chunks WHERE doc_id = ?`, docID)
	if err != nil {
		return err
	}
	symbolIDs, err := queryIDStringsDB(ctx, s.db, `SELECT id FROM symbols WHERE doc_id = ?`, docID)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if len(chunkIDs) > 0 {
		if err := s.vectors.Delete(ctx, chunkIDs); err != nil {
			slog.Warn("vector_delete_failed", slog.String("error", err.Error()))
		}
	}
	if len(symbolIDs) > 0 {
		if err := s.symbols.Delete(ctx, symbolIDs); err != nil {
			slog.Warn("symbol_index_delete_failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// queryIDStringsDB is queryIDStrings against a *sql.DB instead of a *sql.Tx.
func queryIDStringsDB(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return ids, rows.Err()
}

// AllFileStats returns (hash, mtime) for every document, keyed by path,
// for the sync engine's filesystem set-difference.
func (s *SQLiteStore) AllFileStats(ctx context.Context) (map[string]FileStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, path, hash, mtime FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query file stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]FileStat)
	for rows.Next() {
		var path, hash string
		var docID, mtime int64
		if err := rows.Scan(&docID, &path, &hash, &mtime); err != nil {
			return nil, err
		}
		stats[path] = FileStat{DocID: docID, Hash: hash, ModTime: time.Unix(mtime, 0).UTC()}
	}
	return stats, rows.Err()
}

// SimilaritySearch asks the HNSW index for k*candidateFactor approximate
// nearest neighbors, re-scores that candidate set with the exact SQL
// vec_cosine_score function joined against the metadata filters, and
// truncates to k. This keeps result order and score exact while still
// exercising the HNSW graph as a recall pre-filter.
func (s *SQLiteStore) SimilaritySearch(ctx context.Context, query []float32, k int, filter SimilarityFilter) ([]*SimilarityResult, error) {
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vectors.Count() == 0 {
		return nil, nil
	}

	const candidateFactor = 4
	candK := k * candidateFactor
	if candK < k {
		candK = k
	}
	// A directory/glob filter is applied after HNSW recall, so a fixed
	// k*candidateFactor candidate set can under-return on a small or
	// heavily-filtered corpus: the filter may reject most of the top
	// candidates, leaving fewer than k matches even though more exist
	// further down the similarity ranking. When a filter is set, widen
	// the candidate set to the whole corpus so filtering never starves
	// the result below what actually matches.
	if (filter.DirectoryPrefix != "" || filter.FilenameGlob != "") && s.vectors.Count() > candK {
		candK = s.vectors.Count()
	}
	hits, err := s.vectors.Search(ctx, query, candK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(hits))
	args := make([]any, 0, len(hits)+8)
	for i, h := range hits {
		placeholders[i] = "?"
		args = append(args, h.ID)
	}

	queryBlob := vectorToBlob(query)
	sqlStr := strings.Builder{}
	sqlStr.WriteString(`SELECT c.id, d.path, vec_cosine_score(c.embedding, ?) AS score, c.text, c.heading, COALESCE(sy.qname, '')
		FROM chunks c JOIN documents d ON d.id = c.doc_id
		LEFT JOIN symbols sy ON sy.id = c.symbol_id
		WHERE c.id IN (` + strings.Join(placeholders, ",") + `)`)
	finalArgs := append([]any{queryBlob}, args...)

	if filter.DirectoryPrefix != "" {
		sqlStr.WriteString(` AND d.path LIKE ?`)
		finalArgs = append(finalArgs, filter.DirectoryPrefix+"%")
	}
	if filter.FilenameGlob != "" {
		sqlStr.WriteString(` AND d.path GLOB ?`)
		finalArgs = append(finalArgs, "*"+filter.FilenameGlob)
	}
	if filter.Kind != "" {
		sqlStr.WriteString(` AND d.kind = ?`)
		finalArgs = append(finalArgs, string(filter.Kind))
	}
	if filter.Language != "" {
		sqlStr.WriteString(` AND d.lang = ?`)
		finalArgs = append(finalArgs, filter.Language)
	}
	sqlStr.WriteString(` ORDER BY score DESC, c.id ASC`)

	rows, err := s.db.QueryContext(ctx, sqlStr.String(), finalArgs...)
	if err != nil {
		return nil, fmt.Errorf("rescore candidates: %w", err)
	}
	defer rows.Close()

	var results []*SimilarityResult
	for rows.Next() {
		var r SimilarityResult
		var score float64
		var heading sql.NullString
		if err := rows.Scan(&r.ChunkID, &r.DocPath, &score, &r.Snippet, &heading, &r.QName); err != nil {
			return nil, err
		}
		r.Heading = heading.String
		r.Score = float32(score)
		results = append(results, &r)
		if len(results) == k {
			break
		}
	}
	return results, rows.Err()
}

// SearchSymbols asks the BM25 symbol index for candidates whose (name,
// qname, doc) text matches the keywords, then computes the final
// ordering in Go: exact name match first, then shorter qname, then
// smaller id. The BM25 relevance score is used only for recall, never
// for final ordering.
func (s *SQLiteStore) SearchSymbols(ctx context.Context, keywords []string, kind SymbolKind, limit int) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	q := strings.Join(keywords, " ")
	hits, err := s.symbols.Search(ctx, q, limit*4)
	if err != nil {
		return nil, fmt.Errorf("symbol index search: %w", err)
	}
	if len(hits) == 0 {
		return s.searchSymbolsFallback(ctx, keywords, kind, limit)
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT s.id, s.doc_id, s.kind, s.name, s.qname, s.parent_id, s.byte_start, s.byte_end, s.line_start, s.line_end, s.doc, s.signature
		FROM symbols s WHERE s.id IN (` + strings.Join(placeholders, ",") + `)`
	if kind != "" {
		query += ` AND s.kind = ?`
		args = append(args, string(kind))
	}

	symbols, err := s.scanSymbols(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orderSymbols(symbols, keywords)
	if len(symbols) > limit {
		symbols = symbols[:limit]
	}
	return symbols, nil
}

// searchSymbolsFallback is used when the symbol index returns nothing,
// e.g. right after a rebuild where the bleve/FTS5 index lags the SQL
// tables; it falls back to a plain substring scan.
func (s *SQLiteStore) searchSymbolsFallback(ctx context.Context, keywords []string, kind SymbolKind, limit int) ([]*Symbol, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	query := `SELECT id, doc_id, kind, name, qname, parent_id, byte_start, byte_end, line_start, line_end, doc, signature FROM symbols WHERE (`
	var args []any
	clauses := make([]string, len(keywords))
	for i, kw := range keywords {
		clauses[i] = "(name LIKE ? OR qname LIKE ? OR doc LIKE ?)"
		like := "%" + kw + "%"
		args = append(args, like, like, like)
	}
	query += strings.Join(clauses, " OR ") + ")"
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}

	symbols, err := s.scanSymbols(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orderSymbols(symbols, keywords)
	if len(symbols) > limit {
		symbols = symbols[:limit]
	}
	return symbols, nil
}

func (s *SQLiteStore) scanSymbols(ctx context.Context, query string, args ...any) ([]*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []*Symbol
	for rows.Next() {
		var sym Symbol
		var kind string
		var parentID sql.NullInt64
		if err := rows.Scan(&sym.ID, &sym.DocID, &kind, &sym.Name, &sym.QName, &parentID, &sym.ByteStart, &sym.ByteEnd, &sym.LineStart, &sym.LineEnd, &sym.Doc, &sym.Signature); err != nil {
			return nil, err
		}
		sym.Kind = SymbolKind(kind)
		if parentID.Valid {
			v := parentID.Int64
			sym.ParentID = &v
		}
		symbols = append(symbols, &sym)
	}
	return symbols, rows.Err()
}

// orderSymbols sorts symbols by the spec's deterministic ordering: exact
// name match against any keyword first, then shorter qname, then
// smaller id.
func orderSymbols(symbols []*Symbol, keywords []string) {
	exact := make(map[int64]bool, len(symbols))
	for _, sym := range symbols {
		for _, kw := range keywords {
			if strings.EqualFold(sym.Name, kw) {
				exact[sym.ID] = true
				break
			}
		}
	}
	sort.SliceStable(symbols, func(i, j int) bool {
		a, b := symbols[i], symbols[j]
		if exact[a.ID] != exact[b.ID] {
			return exact[a.ID]
		}
		if len(a.QName) != len(b.QName) {
			return len(a.QName) < len(b.QName)
		}
		return a.ID < b.ID
	})
}

// FindSymbolRelations returns the relations touching symbolID in the
// given direction. Relations whose dst_symbol_id was left unresolved at
// index time are matched here by qname or name lookup, in both
// directions, so a symbol indexed after its referrer still links up
// without a reindex.
func (s *SQLiteStore) FindSymbolRelations(ctx context.Context, symbolID int64, direction RelationDirection, kinds []RelationKind) ([]*RelatedSymbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*RelatedSymbol
	kindFilter, kindArgs := buildKindFilter(kinds)

	if direction == DirectionOutgoing || direction == DirectionBoth {
		query := `SELECT r.kind, r.dst_symbol_id, r.dst_name FROM relations r WHERE r.src_symbol_id = ?` + kindFilter
		rows, err := s.db.QueryContext(ctx, query, append([]any{symbolID}, kindArgs...)...)
		if err != nil {
			return nil, fmt.Errorf("query outgoing relations: %w", err)
		}
		for rows.Next() {
			var kind, dstName string
			var dstID sql.NullInt64
			if err := rows.Scan(&kind, &dstID, &dstName); err != nil {
				rows.Close()
				return nil, err
			}
			rel := &RelatedSymbol{RelationKind: RelationKind(kind), OtherName: dstName}
			if dstID.Valid {
				v := dstID.Int64
				rel.OtherID = &v
				rel.OtherPath, _ = s.symbolDocPath(ctx, v)
			} else if resolvedID, path, ok := s.resolveSymbolByQName(ctx, dstName); ok {
				rel.OtherID = &resolvedID
				rel.OtherPath = path
			}
			results = append(results, rel)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	if direction == DirectionIncoming || direction == DirectionBoth {
		query := `SELECT r.kind, r.src_symbol_id, s.name FROM relations r JOIN symbols s ON s.id = r.src_symbol_id
			WHERE (r.dst_symbol_id = ? OR (r.dst_symbol_id IS NULL AND r.dst_name IN
				(SELECT qname FROM symbols WHERE id = ? UNION SELECT name FROM symbols WHERE id = ?)))` + kindFilter
		rows, err := s.db.QueryContext(ctx, query, append([]any{symbolID, symbolID, symbolID}, kindArgs...)...)
		if err != nil {
			return nil, fmt.Errorf("query incoming relations: %w", err)
		}
		for rows.Next() {
			var kind, srcName string
			var srcID int64
			if err := rows.Scan(&kind, &srcID, &srcName); err != nil {
				rows.Close()
				return nil, err
			}
			path, _ := s.symbolDocPath(ctx, srcID)
			results = append(results, &RelatedSymbol{RelationKind: RelationKind(kind), OtherID: &srcID, OtherName: srcName, OtherPath: path})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return results, nil
}

func buildKindFilter(kinds []RelationKind) (string, []any) {
	if len(kinds) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(kinds))
	args := make([]any, len(kinds))
	for i, k := range kinds {
		placeholders[i] = "?"
		args[i] = string(k)
	}
	return " AND r.kind IN (" + strings.Join(placeholders, ",") + ")", args
}

func (s *SQLiteStore) symbolDocPath(ctx context.Context, symbolID int64) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `SELECT d.path FROM symbols s JOIN documents d ON d.id = s.doc_id WHERE s.id = ?`, symbolID).Scan(&path)
	return path, err
}

func (s *SQLiteStore) resolveSymbolByQName(ctx context.Context, qnameOrName string) (int64, string, bool) {
	var id int64
	var path string
	err := s.db.QueryRowContext(ctx,
		`SELECT s.id, d.path FROM symbols s JOIN documents d ON d.id = s.doc_id WHERE s.qname = ? OR s.name = ? LIMIT 1`,
		qnameOrName, qnameOrName).Scan(&id, &path)
	if err != nil {
		return 0, "", false
	}
	return id, path, true
}

// UpsertDictionaryEntries inserts dictionary entries, or bumps freq on
// conflict for an existing (source, target) pair. Entries survive the
// deletion of their first_doc_id document.
func (s *SQLiteStore) UpsertDictionaryEntries(ctx context.Context, entries []*DictionaryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO word_mapping (source, target, freq, first_doc_id) VALUES (?, ?, ?, ?)
			 ON CONFLICT(source, target) DO UPDATE SET freq = freq + excluded.freq`,
			e.Source, e.Target, maxInt(e.Freq, 1), e.FirstDocID); err != nil {
			return fmt.Errorf("upsert dictionary entry %q->%q: %w", e.Source, e.Target, err)
		}
	}
	return tx.Commit()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ListDictionaryEntries returns dictionary entries ordered by descending
// frequency.
func (s *SQLiteStore) ListDictionaryEntries(ctx context.Context, limit int) ([]*DictionaryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, target, freq, first_doc_id FROM word_mapping ORDER BY freq DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dictionary entries: %w", err)
	}
	defer rows.Close()

	var entries []*DictionaryEntry
	for rows.Next() {
		var e DictionaryEntry
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &e.Freq, &e.FirstDocID); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// GetState returns a value from the key/value state table.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %q: %w", key, err)
	}
	return value, nil
}

// SetState upserts a key/value pair in the state table.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

// IndexCheckpoint records how far a long-running reindex has progressed,
// so the sync engine can resume after an interruption instead of
// restarting from scratch.
type IndexCheckpoint struct {
	Stage     string
	Total     int
	Completed int
	Model     string
}

// SaveIndexCheckpoint persists reindex progress. Saving stage "complete"
// is equivalent to ClearIndexCheckpoint: LoadIndexCheckpoint treats a
// complete checkpoint as "nothing to resume".
func (s *SQLiteStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, completed int, model string) error {
	if stage == "complete" {
		return s.ClearIndexCheckpoint(ctx)
	}
	payload := fmt.Sprintf("%s|%d|%d|%s", stage, total, completed, model)
	return s.SetState(ctx, "index_checkpoint", payload)
}

// LoadIndexCheckpoint returns the in-progress checkpoint, or nil if there
// is none (including a previously-saved "complete" checkpoint).
func (s *SQLiteStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	raw, err := s.GetState(ctx, "index_checkpoint")
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	parts := strings.SplitN(raw, "|", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("corrupt index checkpoint")
	}
	total, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("corrupt index checkpoint total: %w", err)
	}
	completed, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("corrupt index checkpoint completed: %w", err)
	}
	return &IndexCheckpoint{Stage: parts[0], Total: total, Completed: completed, Model: parts[3]}, nil
}

// ClearIndexCheckpoint removes any saved checkpoint.
func (s *SQLiteStore) ClearIndexCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_state WHERE key = ?`, "index_checkpoint")
	if err != nil {
		return fmt.Errorf("clear index checkpoint: %w", err)
	}
	return nil
}
