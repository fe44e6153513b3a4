package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// IndexInfo summarizes an index: its location, models, sizes and timestamps.
type IndexInfo struct {
	Location    string
	ProjectRoot string

	IndexModel      string
	IndexBackend    string
	IndexDimensions int

	DocumentCount   int
	ChunkCount      int
	IndexSizeBytes  int64
	MetadataBytes   int64
	SymbolIndexBytes int64
	VectorIndexBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time

	CurrentModel      string
	CurrentBackend    string
	CurrentDimensions int
	Compatible        bool
}

// FormatBytes renders a byte count in human-readable units.
func FormatBytes(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case n < kb:
		return fmt.Sprintf("%d B", n)
	case n < mb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	case n < gb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	}
}

// FormatTime renders a timestamp for display, or "unknown" if zero.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses the embedder backend from a model name,
// for indexes whose state predates explicit backend recording.
func inferBackendFromModel(model string) string {
	if containsAny(model, []string{"static"}) {
		return "static"
	}
	return "onnx"
}

// getDirSize returns the total size in bytes of all files under dir,
// recursively. Returns 0 if dir does not exist.
func getDirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
