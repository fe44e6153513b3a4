package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/amanmcp-ragmcp/ragmcp/internal/embed"
	"github.com/amanmcp-ragmcp/ragmcp/internal/frontmatter"
	"github.com/amanmcp-ragmcp/ragmcp/internal/ragerrors"
	"github.com/amanmcp-ragmcp/ragmcp/internal/store"
	syncengine "github.com/amanmcp-ragmcp/ragmcp/internal/sync"
	"github.com/amanmcp-ragmcp/ragmcp/pkg/version"
)

// Server is the Tool Layer: a stdio JSON-RPC server bridging an MCP
// client to the Store, the Sync Engine, and the Embedder.
type Server struct {
	mcp      *mcp.Server
	store    store.Store
	engine   *syncengine.Engine
	embedder embed.Embedder
	logger   *slog.Logger

	root        string // project root, every tool's path argument is relative to this
	defaultTopK int

	mu sync.RWMutex
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer builds the Tool Layer over an already-initialized Store,
// Sync Engine, and Embedder. defaultTopK backs search's top_k default
// (spec.md §6's search_top_k config key, resolved by the caller).
func NewServer(root string, st store.Store, engine *syncengine.Engine, embedder embed.Embedder, defaultTopK int) (*Server, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if engine == nil {
		return nil, errors.New("sync engine is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}

	s := &Server{
		store:       st,
		engine:      engine,
		embedder:    embedder,
		root:        root,
		defaultTopK: defaultTopK,
		logger:      slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "ragmcp",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP SDK server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "ragmcp", version.Version
}

// ListTools returns the ten registered tools and their descriptions.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "search", Description: toolDescriptions["search"]},
		{Name: "index_markdown", Description: toolDescriptions["index_markdown"]},
		{Name: "index_code", Description: toolDescriptions["index_code"]},
		{Name: "list_documents", Description: toolDescriptions["list_documents"]},
		{Name: "delete_document", Description: toolDescriptions["delete_document"]},
		{Name: "reindex_document", Description: toolDescriptions["reindex_document"]},
		{Name: "add_frontmatter", Description: toolDescriptions["add_frontmatter"]},
		{Name: "update_frontmatter", Description: toolDescriptions["update_frontmatter"]},
		{Name: "search_relations", Description: toolDescriptions["search_relations"]},
		{Name: "build_dictionary", Description: toolDescriptions["build_dictionary"]},
	}
}

var toolDescriptions = map[string]string{
	"search":             "Embeds the query and runs a similarity search over indexed chunks, optionally narrowed by directory or filename glob.",
	"index_markdown":     "Parses, embeds, and upserts one Markdown file.",
	"index_code":         "Parses, embeds, and upserts one code file, extracting its symbols and relations.",
	"list_documents":      "Enumerates indexed documents with pagination.",
	"delete_document":    "Deletes one document and everything that cascades from it (chunks, symbols, relations).",
	"reindex_document":   "Deletes and rebuilds one document from its current on-disk content.",
	"add_frontmatter":    "Writes a new YAML front-matter block to a Markdown file; fails if one already exists.",
	"update_frontmatter": "Merges keys into a Markdown file's existing front-matter, creating the block if absent.",
	"search_relations":   "Matches keywords against symbol names, then returns each match's call/import/inheritance relations.",
	"build_dictionary":   "Rescans the corpus and rebuilds the cross-language term dictionary.",
}

// resolveAbs joins a tool's root-relative path argument onto the project
// root, the same way sync.ReindexDocument resolves docPath to disk.
func (s *Server) resolveAbs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// registerTools registers all ten Tool Layer operations with the MCP SDK.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "search", Description: toolDescriptions["search"]}, s.handleSearch)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "index_markdown", Description: toolDescriptions["index_markdown"]}, s.handleIndexMarkdown)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "index_code", Description: toolDescriptions["index_code"]}, s.handleIndexCode)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "list_documents", Description: toolDescriptions["list_documents"]}, s.handleListDocuments)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "delete_document", Description: toolDescriptions["delete_document"]}, s.handleDeleteDocument)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "reindex_document", Description: toolDescriptions["reindex_document"]}, s.handleReindexDocument)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "add_frontmatter", Description: toolDescriptions["add_frontmatter"]}, s.handleAddFrontMatter)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "update_frontmatter", Description: toolDescriptions["update_frontmatter"]}, s.handleUpdateFrontMatter)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "search_relations", Description: toolDescriptions["search_relations"]}, s.handleSearchRelations)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "build_dictionary", Description: toolDescriptions["build_dictionary"]}, s.handleBuildDictionary)

	s.logger.Info("tools registered", slog.Int("count", 10))
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query is required and must not be blank")
	}

	// input.TopK is a pointer so an explicit 0 (spec: empty result) can be
	// told apart from an absent field (default to s.defaultTopK).
	topK := s.defaultTopK
	if input.TopK != nil {
		topK = *input.TopK
	}
	if topK == 0 {
		return nil, SearchOutput{Results: []SearchResultOutput{}}, nil
	}
	if topK < 0 {
		return nil, SearchOutput{}, NewInvalidParamsError("top_k must not be negative")
	}

	requestID := generateRequestID()
	start := time.Now()

	vector, err := s.embedder.Embed(ctx, input.Query)
	if err != nil {
		s.logger.Error("search: embed failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(ragerrors.InferenceFailedErr("embed query", err))
	}

	filter := store.SimilarityFilter{
		DirectoryPrefix: input.Directory,
		FilenameGlob:    input.FilenameGlob,
	}
	results, err := s.store.SimilaritySearch(ctx, vector, topK, filter)
	if err != nil {
		s.logger.Error("search: similarity search failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(ragerrors.IoFailedErr("similarity search", err))
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchResultOutput{
			Path:    r.DocPath,
			Score:   float64(r.Score),
			Snippet: r.Snippet,
			Heading: r.Heading,
			QName:   r.QName,
		})
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(out.Results)))

	return nil, out, nil
}

func (s *Server) handleIndexMarkdown(ctx context.Context, _ *mcp.CallToolRequest, input IndexMarkdownInput) (*mcp.CallToolResult, IndexMarkdownOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, IndexMarkdownOutput{}, NewInvalidParamsError("path is required")
	}

	result, err := s.engine.IndexMarkdown(ctx, s.resolveAbs(input.Path), input.Path)
	if err != nil {
		return nil, IndexMarkdownOutput{}, MapError(err)
	}
	return nil, IndexMarkdownOutput{Chunks: result.Chunks}, nil
}

func (s *Server) handleIndexCode(ctx context.Context, _ *mcp.CallToolRequest, input IndexCodeInput) (*mcp.CallToolResult, IndexCodeOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, IndexCodeOutput{}, NewInvalidParamsError("path is required")
	}

	result, err := s.engine.IndexCode(ctx, s.resolveAbs(input.Path), input.Path, "")
	if err != nil {
		return nil, IndexCodeOutput{}, MapError(err)
	}
	return nil, IndexCodeOutput{Chunks: result.Chunks, Symbols: result.Symbols, Relations: result.Relations}, nil
}

func (s *Server) handleListDocuments(ctx context.Context, _ *mcp.CallToolRequest, input ListDocumentsInput) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	docs, next, err := s.store.ListDocuments(ctx, input.Cursor, input.Limit)
	if err != nil {
		return nil, ListDocumentsOutput{}, MapError(ragerrors.IoFailedErr("list documents", err))
	}

	out := ListDocumentsOutput{Documents: make([]DocumentInfo, 0, len(docs)), NextCursor: next}
	for _, d := range docs {
		out.Documents = append(out.Documents, DocumentInfo{
			Path:      d.Path,
			Kind:      string(d.Kind),
			Language:  d.Language,
			Size:      d.Size,
			IndexedAt: d.IndexedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, _ *mcp.CallToolRequest, input DeleteDocumentInput) (*mcp.CallToolResult, DeleteDocumentOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, DeleteDocumentOutput{}, NewInvalidParamsError("path is required")
	}

	if err := s.engine.DeleteDocument(ctx, input.Path); err != nil {
		if ragerrors.GetKind(err) == ragerrors.NotFound {
			return nil, DeleteDocumentOutput{Deleted: false}, nil
		}
		return nil, DeleteDocumentOutput{}, MapError(err)
	}
	return nil, DeleteDocumentOutput{Deleted: true}, nil
}

func (s *Server) handleReindexDocument(ctx context.Context, _ *mcp.CallToolRequest, input ReindexDocumentInput) (*mcp.CallToolResult, IndexCodeOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, IndexCodeOutput{}, NewInvalidParamsError("path is required")
	}

	result, err := s.engine.ReindexDocument(ctx, s.root, input.Path)
	if err != nil {
		return nil, IndexCodeOutput{}, MapError(err)
	}
	return nil, IndexCodeOutput{Chunks: result.Chunks, Symbols: result.Symbols, Relations: result.Relations}, nil
}

func (s *Server) handleAddFrontMatter(ctx context.Context, _ *mcp.CallToolRequest, input AddFrontMatterInput) (*mcp.CallToolResult, AddFrontMatterOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, AddFrontMatterOutput{}, NewInvalidParamsError("path is required")
	}

	written, err := s.writeFrontMatter(ctx, input.Path, input.Fields, frontmatter.Add)
	if err != nil {
		return nil, AddFrontMatterOutput{}, MapError(err)
	}
	return nil, AddFrontMatterOutput{Written: written}, nil
}

func (s *Server) handleUpdateFrontMatter(ctx context.Context, _ *mcp.CallToolRequest, input UpdateFrontMatterInput) (*mcp.CallToolResult, UpdateFrontMatterOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, UpdateFrontMatterOutput{}, NewInvalidParamsError("path is required")
	}

	updated, err := s.writeFrontMatter(ctx, input.Path, input.Fields, frontmatter.Update)
	if err != nil {
		return nil, UpdateFrontMatterOutput{}, MapError(err)
	}
	return nil, UpdateFrontMatterOutput{Updated: updated}, nil
}

// writeFrontMatter reads the file at path, applies apply (either
// frontmatter.Add or frontmatter.Update) to it, writes the result back,
// and reindexes the document so the Store reflects the new content and
// indexed_at — the Store has no direct front-matter write path of its
// own, only the file on disk does.
func (s *Server) writeFrontMatter(ctx context.Context, path string, fields map[string]any, apply func([]byte, map[string]any) ([]byte, error)) (bool, error) {
	absPath := s.resolveAbs(path)

	content, err := os.ReadFile(absPath)
	if err != nil {
		return false, ragerrors.IoFailedErr(fmt.Sprintf("read %s", path), err)
	}

	out, err := apply(content, fields)
	if err != nil {
		return false, err
	}

	if err := os.WriteFile(absPath, out, 0o644); err != nil {
		return false, ragerrors.IoFailedErr(fmt.Sprintf("write %s", path), err)
	}

	if _, err := s.engine.ReindexDocument(ctx, s.root, path); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Server) handleSearchRelations(ctx context.Context, _ *mcp.CallToolRequest, input SearchRelationsInput) (*mcp.CallToolResult, SearchRelationsOutput, error) {
	if len(input.Keywords) == 0 {
		return nil, SearchRelationsOutput{}, NewInvalidParamsError("keywords is required and must be non-empty")
	}

	direction := store.DirectionBoth
	switch strings.ToLower(input.Direction) {
	case "", "both":
		direction = store.DirectionBoth
	case "outgoing":
		direction = store.DirectionOutgoing
	case "incoming":
		direction = store.DirectionIncoming
	default:
		return nil, SearchRelationsOutput{}, NewInvalidParamsError("direction must be one of: outgoing, incoming, both")
	}

	kinds := make([]store.RelationKind, 0, len(input.Kinds))
	for _, k := range input.Kinds {
		kinds = append(kinds, store.RelationKind(strings.ToLower(k)))
	}

	const matchLimit = 20
	symbols, err := s.store.SearchSymbols(ctx, input.Keywords, "", matchLimit)
	if err != nil {
		return nil, SearchRelationsOutput{}, MapError(ragerrors.IoFailedErr("search symbols", err))
	}

	out := SearchRelationsOutput{Symbols: make([]SymbolRelationsOutput, 0, len(symbols))}
	for _, sym := range symbols {
		related, err := s.store.FindSymbolRelations(ctx, sym.ID, direction, kinds)
		if err != nil {
			return nil, SearchRelationsOutput{}, MapError(ragerrors.IoFailedErr("find symbol relations", err))
		}

		group := SymbolRelationsOutput{
			Symbol:    sym.Name,
			QName:     sym.QName,
			Relations: make([]RelatedSymbolOutput, 0, len(related)),
		}
		for _, r := range related {
			group.Relations = append(group.Relations, RelatedSymbolOutput{
				Kind:      string(r.RelationKind),
				OtherName: r.OtherName,
				OtherPath: r.OtherPath,
			})
		}
		out.Symbols = append(out.Symbols, group)
	}

	return nil, out, nil
}

func (s *Server) handleBuildDictionary(ctx context.Context, _ *mcp.CallToolRequest, input BuildDictionaryInput) (*mcp.CallToolResult, BuildDictionaryOutput, error) {
	entries, err := s.engine.BuildDictionary(ctx, syncengine.Options{Root: s.root, Patterns: input.Patterns})
	if err != nil {
		return nil, BuildDictionaryOutput{}, MapError(ragerrors.IoFailedErr("build dictionary", err))
	}
	return nil, BuildDictionaryOutput{Entries: entries}, nil
}

// Serve starts the server on the given transport and blocks until the
// transport closes or ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return ragerrors.TransportFailedErr("stdio transport", err)
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return ragerrors.ConfigInvalidf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources. The MCP SDK server itself has
// nothing to close explicitly — it stops when its context is canceled.
func (s *Server) Close() error {
	return nil
}

// generateRequestID creates a short id for log correlation across a
// single tool call's start/completion lines.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
