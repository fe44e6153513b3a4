package mcp

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query        string `json:"query" jsonschema:"the search query to embed and match"`
	TopK         *int   `json:"top_k,omitempty" jsonschema:"maximum number of results, default 5; 0 returns no results"`
	Directory    string `json:"directory,omitempty" jsonschema:"restrict results to documents under this path prefix"`
	FilenameGlob string `json:"filename_glob,omitempty" jsonschema:"restrict results to filenames matching this glob"`
}

// SearchResultOutput is a single similarity search hit.
type SearchResultOutput struct {
	Path    string  `json:"path" jsonschema:"document path, root-relative"`
	Score   float64 `json:"score" jsonschema:"cosine similarity, 1 - distance"`
	Snippet string  `json:"snippet" jsonschema:"matched chunk text"`
	Heading string  `json:"heading,omitempty" jsonschema:"enclosing Markdown heading path, if any"`
	QName   string  `json:"qname,omitempty" jsonschema:"enclosing symbol's qualified name, if any"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
}

// IndexMarkdownInput is the input schema for the index_markdown tool.
type IndexMarkdownInput struct {
	Path string `json:"path" jsonschema:"root-relative path of the Markdown file to index"`
}

// IndexMarkdownOutput is the output schema for the index_markdown tool.
type IndexMarkdownOutput struct {
	Chunks int `json:"chunks"`
}

// IndexCodeInput is the input schema for the index_code tool.
type IndexCodeInput struct {
	Path string `json:"path" jsonschema:"root-relative path of the code file to index"`
}

// IndexCodeOutput is the output schema for the index_code and
// reindex_document tools.
type IndexCodeOutput struct {
	Chunks    int `json:"chunks"`
	Symbols   int `json:"symbols"`
	Relations int `json:"relations"`
}

// ListDocumentsInput is the input schema for the list_documents tool.
type ListDocumentsInput struct {
	Cursor string `json:"cursor,omitempty" jsonschema:"opaque pagination cursor from a previous call"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of documents to return, default 100"`
}

// DocumentInfo is one entry in list_documents' output.
type DocumentInfo struct {
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	Language  string `json:"language,omitempty"`
	Size      int64  `json:"size"`
	IndexedAt string `json:"indexed_at"`
}

// ListDocumentsOutput is the output schema for the list_documents tool.
type ListDocumentsOutput struct {
	Documents  []DocumentInfo `json:"documents"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// DeleteDocumentInput is the input schema for the delete_document tool.
type DeleteDocumentInput struct {
	Path string `json:"path" jsonschema:"root-relative path of the document to delete"`
}

// DeleteDocumentOutput is the output schema for the delete_document tool.
type DeleteDocumentOutput struct {
	Deleted bool `json:"deleted"`
}

// ReindexDocumentInput is the input schema for the reindex_document tool.
type ReindexDocumentInput struct {
	Path string `json:"path" jsonschema:"root-relative path of the document to reindex"`
}

// AddFrontMatterInput is the input schema for the add_frontmatter tool.
type AddFrontMatterInput struct {
	Path   string         `json:"path" jsonschema:"root-relative path of the Markdown file"`
	Fields map[string]any `json:"fields" jsonschema:"front-matter keys to write"`
}

// AddFrontMatterOutput is the output schema for the add_frontmatter tool.
type AddFrontMatterOutput struct {
	Written bool `json:"written"`
}

// UpdateFrontMatterInput is the input schema for the update_frontmatter tool.
type UpdateFrontMatterInput struct {
	Path   string         `json:"path" jsonschema:"root-relative path of the Markdown file"`
	Fields map[string]any `json:"fields" jsonschema:"front-matter keys to merge in"`
}

// UpdateFrontMatterOutput is the output schema for the update_frontmatter tool.
type UpdateFrontMatterOutput struct {
	Updated bool `json:"updated"`
}

// SearchRelationsInput is the input schema for the search_relations tool.
type SearchRelationsInput struct {
	Keywords  []string `json:"keywords" jsonschema:"keywords to match against symbol names"`
	Direction string   `json:"direction,omitempty" jsonschema:"outgoing, incoming, or both; default both"`
	Kinds     []string `json:"kinds,omitempty" jsonschema:"relation kinds to include: calls, imports, inherits, implements, references"`
}

// RelatedSymbolOutput is one edge in search_relations' grouped output.
type RelatedSymbolOutput struct {
	Kind      string `json:"kind"`
	OtherName string `json:"other_name"`
	OtherPath string `json:"other_path,omitempty"`
}

// SymbolRelationsOutput groups the relations found for one matched symbol.
type SymbolRelationsOutput struct {
	Symbol    string                `json:"symbol"`
	QName     string                `json:"qname"`
	Path      string                `json:"path"`
	Relations []RelatedSymbolOutput `json:"relations"`
}

// SearchRelationsOutput is the output schema for the search_relations tool.
type SearchRelationsOutput struct {
	Symbols []SymbolRelationsOutput `json:"symbols"`
}

// BuildDictionaryInput is the input schema for the build_dictionary tool.
type BuildDictionaryInput struct {
	Patterns []string `json:"patterns,omitempty" jsonschema:"glob prefixes to scan; default the whole tree"`
}

// BuildDictionaryOutput is the output schema for the build_dictionary tool.
type BuildDictionaryOutput struct {
	Entries int `json:"entries"`
}
