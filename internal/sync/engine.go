package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amanmcp-ragmcp/ragmcp/internal/chunk"
	"github.com/amanmcp-ragmcp/ragmcp/internal/embed"
	"github.com/amanmcp-ragmcp/ragmcp/internal/ragerrors"
	"github.com/amanmcp-ragmcp/ragmcp/internal/store"
)

// Engine reconciles a Store with a filesystem tree: it parses, embeds,
// and upserts documents, and tears down documents no longer on disk.
// All writes to the Store go through writeMu, so a fsnotify-triggered
// pass (watch.go) never races a tool-invoked mutation — they share one
// serialized lane, per spec.md §5's single-writer policy.
type Engine struct {
	store    store.Store
	embedder embed.Embedder

	markdown *chunk.MarkdownChunker
	code     *chunk.CodeChunker
	dict     *chunk.DictionaryExtractor

	writeMu sync.Mutex
}

// NewEngine builds a sync engine over an already-open Store and Embedder.
// The Engine does not own their lifecycle; callers Close them separately.
func NewEngine(st store.Store, embedder embed.Embedder) *Engine {
	return &Engine{
		store:    st,
		embedder: embedder,
		markdown: chunk.NewMarkdownChunker(),
		code:     chunk.NewCodeChunker(),
		dict:     chunk.NewDictionaryExtractor(),
	}
}

// Close releases the chunkers' resources (tree-sitter parser handles).
// It does not close the Store or Embedder.
func (e *Engine) Close() {
	e.markdown.Close()
	e.code.Close()
}

// Sync runs one reconciliation pass: enumerate the filesystem, diff
// against the Store's (path, hash, mtime) records, and index/reindex/
// delete as needed. Files are processed in lexicographic order (spec.md
// §4.4 step 5); parsing and embedding for distinct files run
// concurrently, but each document's delete+insert transaction is
// serialized through writeMu.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Summary, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}

	files, err := Scan(root, opts.Patterns, opts.Excludes, opts.Extensions)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	stats, err := e.store.AllFileStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load file stats: %w", err)
	}

	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		onDisk[f.Path] = true
	}

	summary := &Summary{}
	var summaryMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentParse())

	for _, f := range files {
		f := f
		existing, hadStat := stats[f.Path]

		g.Go(func() error {
			hash, content, err := hashFile(f.AbsPath)
			if err != nil {
				summaryMu.Lock()
				summary.Failed = append(summary.Failed, FailedFile{Path: f.Path, Reason: err.Error()})
				summaryMu.Unlock()
				slog.Warn("sync: failed to read file", slog.String("path", f.Path), slog.String("error", err.Error()))
				return nil
			}

			if hadStat && existing.Hash == hash {
				return nil // unchanged, do not touch indexed_at
			}

			if _, err := e.indexContent(gctx, f.AbsPath, f.Path, f.Language, content); err != nil {
				summaryMu.Lock()
				summary.Failed = append(summary.Failed, FailedFile{Path: f.Path, Reason: err.Error()})
				summaryMu.Unlock()
				slog.Warn("sync: failed to index file", slog.String("path", f.Path), slog.String("error", err.Error()))
				return nil
			}

			summaryMu.Lock()
			if hadStat {
				summary.Updated++
			} else {
				summary.Added++
			}
			summaryMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Anything in the store but no longer on disk gets deleted. Sorted so
	// deletions, like indexing, happen in a deterministic order.
	var stalePaths []string
	for path := range stats {
		if !onDisk[path] {
			stalePaths = append(stalePaths, path)
		}
	}
	sort.Strings(stalePaths)

	for _, path := range stalePaths {
		if err := e.DeleteDocument(ctx, path); err != nil {
			summary.Failed = append(summary.Failed, FailedFile{Path: path, Reason: err.Error()})
			slog.Warn("sync: failed to delete stale document", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		summary.Deleted++
	}

	return summary, nil
}

// IndexMarkdown parses, embeds, and upserts one Markdown file. docPath is
// the stable identifier recorded as Document.Path (root-relative,
// forward-slash); absPath is where to actually read the bytes from.
func (e *Engine) IndexMarkdown(ctx context.Context, absPath, docPath string) (*IndexResult, error) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, ragerrors.IoFailedErr(fmt.Sprintf("read %s", docPath), err)
	}
	return e.indexContent(ctx, absPath, docPath, "markdown", content)
}

// IndexCode parses, embeds, and upserts one code file, extracting
// symbols and relations along the way.
func (e *Engine) IndexCode(ctx context.Context, absPath, docPath, language string) (*IndexResult, error) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, ragerrors.IoFailedErr(fmt.Sprintf("read %s", docPath), err)
	}
	if language == "" {
		language = DetectLanguage(docPath)
	}
	return e.indexContent(ctx, absPath, docPath, language, content)
}

// ReindexDocument deletes and rebuilds one document from its current
// on-disk content. UpsertDocument already does delete-then-insert
// transactionally, so this is indexContent with a fresh read.
func (e *Engine) ReindexDocument(ctx context.Context, root, docPath string) (*IndexResult, error) {
	absPath := filepath.Join(root, filepath.FromSlash(docPath))
	language := DetectLanguage(docPath)
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, ragerrors.IoFailedErr(fmt.Sprintf("read %s", docPath), err)
	}
	return e.indexContent(ctx, absPath, docPath, language, content)
}

// DeleteDocument removes a document and everything cascading from it.
// docPath must match what was recorded in Document.Path at index time.
func (e *Engine) DeleteDocument(ctx context.Context, docPath string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.store.DeleteDocument(ctx, docPath); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ragerrors.NotFoundErr(err.Error())
		}
		return ragerrors.IoFailedErr(fmt.Sprintf("delete %s", docPath), err)
	}
	return nil
}

// indexContent runs the full parse -> embed -> upsert pipeline for one
// document's bytes, regardless of how the caller obtained them.
func (e *Engine) indexContent(ctx context.Context, absPath, docPath, language string, content []byte) (*IndexResult, error) {
	kind := store.DocumentKindCode
	if language == "markdown" {
		kind = store.DocumentKindMarkdown
	}

	file := &chunk.FileInput{Path: docPath, Content: content, Language: language}

	var chunks []*chunk.Chunk
	var err error
	if kind == store.DocumentKindMarkdown {
		chunks, err = e.markdown.Chunk(ctx, file)
	} else {
		chunks, err = e.code.Chunk(ctx, file)
	}
	if err != nil {
		return nil, ragerrors.ParseFailedErr(fmt.Sprintf("chunk %s", docPath), err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = e.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, ragerrors.InferenceFailedErr(fmt.Sprintf("embed %s", docPath), err)
		}
	}

	chunkInserts, symbols, relations := assembleInserts(content, chunks, vectors)

	hash, _, err := hashBytes(content)
	if err != nil {
		return nil, err
	}

	modTime := time.Now()
	if info, statErr := os.Stat(absPath); statErr == nil {
		modTime = info.ModTime()
	}

	doc := &store.Document{
		Path:        docPath,
		Kind:        kind,
		Hash:        hash,
		Size:        int64(len(content)),
		ModTime:     modTime,
		Language:    language,
		FrontMatter: chunk.ExtractFrontMatter(content),
	}

	e.writeMu.Lock()
	_, err = e.store.UpsertDocument(ctx, doc, chunkInserts, symbols, relations)
	e.writeMu.Unlock()
	if err != nil {
		return nil, ragerrors.IoFailedErr(fmt.Sprintf("upsert %s", docPath), err)
	}

	return &IndexResult{Chunks: len(chunkInserts), Symbols: len(symbols), Relations: len(relations)}, nil
}

// assembleInserts converts one document's chunker output into the Store's
// insert shapes: chunks keep their vector and (for code) a symbol
// reference; symbols are deduplicated by (name, start, end); relations
// come from each symbol's unresolved SymbolRefs, referencing the symbol
// that produced them by index into the returned symbols slice.
func assembleInserts(content []byte, chunks []*chunk.Chunk, vectors [][]float32) ([]*store.ChunkInsert, []*store.Symbol, []*store.RelationInsert) {
	chunkInserts := make([]*store.ChunkInsert, 0, len(chunks))
	symbols := make([]*store.Symbol, 0)
	relations := make([]*store.RelationInsert, 0)

	type symbolKey struct {
		name       string
		start, end int
	}
	symbolIndex := make(map[symbolKey]int)
	searchFrom := 0

	addSymbol := func(sym *chunk.Symbol) int {
		key := symbolKey{sym.Name, sym.StartLine, sym.EndLine}
		if idx, ok := symbolIndex[key]; ok {
			return idx
		}
		storeSym := &store.Symbol{
			Name:      sym.Name,
			QName:     sym.QName,
			Kind:      symbolKindFor(sym.Type),
			LineStart: sym.StartLine,
			LineEnd:   sym.EndLine,
			Signature: sym.Signature,
			Doc:       sym.DocComment,
		}
		if storeSym.QName == "" {
			storeSym.QName = sym.Name
		}
		idx := len(symbols)
		symbols = append(symbols, storeSym)
		symbolIndex[key] = idx
		for _, ref := range sym.Refs {
			relations = append(relations, &store.RelationInsert{
				SrcSymbolRef: idx,
				DstName:      ref.Name,
				Kind:         relationKindFor(ref.Kind),
			})
		}
		return idx
	}

	for ord, c := range chunks {
		start, end := byteRange(content, c.RawContent, searchFrom)
		if end > searchFrom {
			searchFrom = end
		}

		ci := &store.ChunkInsert{
			Ord:       ord,
			ByteStart: start,
			ByteEnd:   end,
			Text:      c.Content,
			Heading:   c.Metadata["header_path"],
			SymbolRef: -1,
		}
		if len(vectors) > ord {
			ci.Vector = vectors[ord]
		}
		if len(c.Symbols) > 0 {
			ci.SymbolRef = addSymbol(c.Symbols[0])
			for _, extra := range c.Symbols[1:] {
				addSymbol(extra)
			}
		}
		chunkInserts = append(chunkInserts, ci)
	}

	return chunkInserts, symbols, relations
}

// byteRange locates raw's byte span within content, searching forward
// from hint to keep successive chunks' ranges ascending and disjoint (the
// sync engine processes chunks in order). If raw can't be found verbatim
// (possible once a chunk's content has been reflowed), the span collapses
// to a zero-length point at hint so later chunks still progress.
func byteRange(content []byte, raw string, hint int) (int, int) {
	if raw == "" {
		return hint, hint
	}
	idx := bytes.Index(content[min(hint, len(content)):], []byte(raw))
	if idx < 0 {
		return hint, hint
	}
	start := hint + idx
	return start, start + len(raw)
}

// symbolKindFor maps the chunker's language-agnostic SymbolType onto the
// store's SymbolKind. There is no dedicated store kind for a bare
// variable (only SymbolKindConst), so variables fall into const — the
// store's kind filter is a coarse facet for search, not a type system.
func symbolKindFor(t chunk.SymbolType) store.SymbolKind {
	switch t {
	case chunk.SymbolTypeFunction:
		return store.SymbolKindFunction
	case chunk.SymbolTypeMethod:
		return store.SymbolKindMethod
	case chunk.SymbolTypeClass:
		return store.SymbolKindClass
	case chunk.SymbolTypeInterface:
		return store.SymbolKindInterface
	case chunk.SymbolTypeType:
		return store.SymbolKindStruct
	case chunk.SymbolTypeConstant, chunk.SymbolTypeVariable:
		return store.SymbolKindConst
	default:
		return store.SymbolKindFunction
	}
}

func relationKindFor(k chunk.RefKind) store.RelationKind {
	switch k {
	case chunk.RefKindCall:
		return store.RelationCalls
	case chunk.RefKindImport:
		return store.RelationImports
	case chunk.RefKindInherits:
		return store.RelationInherits
	case chunk.RefKindImplements:
		return store.RelationImplements
	default:
		return store.RelationReferences
	}
}

func hashFile(path string) (string, []byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	hash, _, err := hashBytes(content)
	return hash, content, err
}

func hashBytes(content []byte) (string, []byte, error) {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), content, nil
}

// maxConcurrentParse bounds how many files are parsed/embedded at once
// during a sync pass; writes are serialized separately via writeMu.
func maxConcurrentParse() int {
	return 4
}
