package sync

import (
	"context"
	"fmt"
	"os"

	"github.com/amanmcp-ragmcp/ragmcp/internal/store"
)

// BuildDictionary rescans the corpus under patterns (or, if empty, the
// whole tree under opts.Root) and rebuilds word_mapping from scratch:
// spec.md §4.3 names this the only operation that runs the dictionary
// extractor across the whole corpus. Pairings are aggregated by
// (source, target) across every document, with frequency summed and
// first_doc_id set to the first document (in scan order) where the pair
// appears.
func (e *Engine) BuildDictionary(ctx context.Context, opts Options) (int, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}

	files, err := Scan(root, opts.Patterns, opts.Excludes, opts.Extensions)
	if err != nil {
		return 0, fmt.Errorf("scan: %w", err)
	}

	type key struct{ source, target string }
	agg := make(map[key]*store.DictionaryEntry)

	for _, f := range files {
		content, err := os.ReadFile(f.AbsPath)
		if err != nil {
			continue // a single unreadable file doesn't abort the corpus scan
		}

		doc, err := e.store.GetDocument(ctx, f.Path)
		var firstDocID int64
		if err == nil && doc != nil {
			firstDocID = doc.ID
		}

		for _, pairing := range e.dict.ExtractPairings(string(content)) {
			k := key{pairing.Source, pairing.Target}
			if existing, ok := agg[k]; ok {
				existing.Freq++
				continue
			}
			agg[k] = &store.DictionaryEntry{
				Source:     pairing.Source,
				Target:     pairing.Target,
				Freq:       1,
				FirstDocID: firstDocID,
			}
		}
	}

	entries := make([]*store.DictionaryEntry, 0, len(agg))
	for _, entry := range agg {
		entries = append(entries, entry)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.store.UpsertDictionaryEntries(ctx, entries); err != nil {
		return 0, fmt.Errorf("upsert dictionary entries: %w", err)
	}

	return len(entries), nil
}
