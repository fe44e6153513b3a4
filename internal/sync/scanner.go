// Package sync reconciles the Store with the filesystem: it walks the
// configured document patterns, classifies each path as new, changed, or
// unchanged against the Store's (path, hash, mtime) records, and drives
// the chunker/embedder/store pipeline to bring the Store back in sync.
package sync

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions is the default set of file extensions a sync pass
// indexes, per spec.md §4.4 step 1.
var DefaultExtensions = []string{".md", ".rs", ".go", ".py", ".ts", ".js"}

// languageByExtension maps an indexable extension to the language tag
// stored on the Document and passed to the chunkers. Only extensions
// DefaultExtensions names (or a caller's custom extension list) are ever
// looked up here.
var languageByExtension = map[string]string{
	".md":  "markdown",
	".rs":  "rust",
	".go":  "go",
	".py":  "python",
	".ts":  "typescript",
	".js":  "javascript",
	".tsx": "tsx",
	".jsx": "javascript",
}

// DetectLanguage returns the language tag for a file extension, or ""
// if the extension isn't recognized.
func DetectLanguage(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

// ScannedFile is one filesystem path discovered by Scan, the raw
// material the sync engine's reconciliation pass classifies.
type ScannedFile struct {
	Path     string // relative to the scan root, forward-slash separated
	AbsPath  string
	Language string
}

// Scan walks each of patterns (directory prefixes relative to root, "./"
// meaning the whole tree) and returns every file whose extension is in
// extensions, excluding any path with a prefix in excludes. Results are
// sorted lexicographically by Path so callers get the deterministic
// processing order spec.md §4.4 step 5 requires.
func Scan(root string, patterns, excludes, extensions []string) ([]ScannedFile, error) {
	if len(patterns) == 0 {
		patterns = []string{"./"}
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet[strings.ToLower(e)] = true
	}

	seen := make(map[string]bool)
	var files []ScannedFile

	for _, pattern := range patterns {
		walkRoot := filepath.Join(root, filepath.Clean(pattern))
		err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if isExcluded(rel, excludes) {
					return fs.SkipDir
				}
				return nil
			}
			if isExcluded(rel, excludes) {
				return nil
			}
			if !extSet[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			if seen[rel] {
				return nil // pattern overlap
			}
			seen[rel] = true

			files = append(files, ScannedFile{
				Path:     rel,
				AbsPath:  path,
				Language: DetectLanguage(rel),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func isExcluded(relPath string, excludes []string) bool {
	for _, ex := range excludes {
		ex = strings.TrimPrefix(filepath.ToSlash(filepath.Clean(ex)), "./")
		if ex == "" {
			continue
		}
		if relPath == ex || strings.HasPrefix(relPath, ex+"/") {
			return true
		}
	}
	return false
}
