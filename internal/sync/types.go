package sync

// Options configures a sync pass: where to look and what to skip.
// The sync engine itself has no opinion on where these values come from;
// the tool layer and CLI populate them from the loaded config file.
type Options struct {
	// Root is the project root all patterns/excludes are relative to.
	Root string

	// Patterns are document pattern prefixes (spec.md's "list of glob
	// prefixes"), default ["./"] meaning the whole tree.
	Patterns []string

	// Excludes are path prefixes never scanned. The caller is
	// responsible for always including the db file and model directory;
	// the engine does not assume a particular config shape.
	Excludes []string

	// Extensions restricts which file extensions are indexable. Empty
	// means DefaultExtensions.
	Extensions []string
}

// FailedFile records one file a sync pass could not process.
type FailedFile struct {
	Path   string
	Reason string
}

// Summary is the result of one sync pass, matching spec.md §4.4's
// `{added, updated, deleted, failed:[(path, reason)]}` shape.
type Summary struct {
	Added   int
	Updated int
	Deleted int
	Failed  []FailedFile
}

// IndexResult is returned by a single-file index operation.
type IndexResult struct {
	Chunks    int
	Symbols   int
	Relations int
}
