// Package embed provides embedding functionality for ragmcp.
// This file implements downloading and caching of the ONNX model and
// tokenizer assets used by the production embedder.
package embed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultModelName is the default embedding model.
	DefaultModelName = "intfloat/multilingual-e5-small"

	// DefaultModelFile is the ONNX export of the model.
	DefaultModelFile = "model.onnx"

	// DefaultTokenizerFile is the HuggingFace fast-tokenizer definition
	// that ships alongside the ONNX export.
	DefaultTokenizerFile = "tokenizer.json"

	// DefaultModelURL is the HuggingFace URL for the ONNX export.
	DefaultModelURL = "https://huggingface.co/intfloat/multilingual-e5-small/resolve/main/onnx/model.onnx"

	// DefaultTokenizerURL is the HuggingFace URL for the tokenizer definition.
	DefaultTokenizerURL = "https://huggingface.co/intfloat/multilingual-e5-small/resolve/main/tokenizer.json"

	// DefaultModelSize is the approximate size of the ONNX export in bytes (~470MB).
	DefaultModelSize = 470 * 1024 * 1024

	// AssetDownloadTimeout is the maximum time to wait for a single asset download.
	AssetDownloadTimeout = 30 * time.Minute
)

// AssetManager handles downloading and caching of the model and
// tokenizer files the production embedder needs.
type AssetManager struct {
	assetsDir string
	lock      *FileLock
	mu        sync.Mutex
}

// NewAssetManager creates a new asset manager. assetsDir is typically
// ~/.ragmcp/models/.
func NewAssetManager(assetsDir string) *AssetManager {
	return &AssetManager{assetsDir: assetsDir}
}

// ModelPath returns the path to the ONNX model file.
func (m *AssetManager) ModelPath() string {
	return filepath.Join(m.assetsDir, DefaultModelFile)
}

// TokenizerPath returns the path to the tokenizer definition file.
func (m *AssetManager) TokenizerPath() string {
	return filepath.Join(m.assetsDir, DefaultTokenizerFile)
}

// ModelExists reports whether the model file is already downloaded.
func (m *AssetManager) ModelExists() bool {
	return fileNonEmpty(m.ModelPath())
}

// TokenizerExists reports whether the tokenizer file is already downloaded.
func (m *AssetManager) TokenizerExists() bool {
	return fileNonEmpty(m.TokenizerPath())
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// EnsureAssets ensures the model and tokenizer files are present,
// downloading whichever is missing. A cross-process file lock
// prevents two ragmcp instances from downloading concurrently.
func (m *AssetManager) EnsureAssets(ctx context.Context, progressFn func(asset string, downloaded, total int64)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ModelExists() && m.TokenizerExists() {
		return nil
	}

	if err := os.MkdirAll(m.assetsDir, 0755); err != nil {
		return fmt.Errorf("create assets directory: %w", err)
	}

	m.lock = NewFileLock(m.assetsDir)
	if err := m.lock.Lock(); err != nil {
		return fmt.Errorf("acquire download lock: %w", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	// Re-check after acquiring the lock: another process may have
	// finished downloading while we were waiting.
	if m.ModelExists() && m.TokenizerExists() {
		return nil
	}

	retry := DefaultRetryConfig()

	if !m.ModelExists() {
		err := DownloadWithRetry(ctx, retry, func() error {
			return downloadAsset(ctx, DefaultModelURL, m.ModelPath(), DefaultModelSize, func(d, t int64) {
				if progressFn != nil {
					progressFn("model", d, t)
				}
			})
		})
		if err != nil {
			return fmt.Errorf("download model: %w", err)
		}
	}

	if !m.TokenizerExists() {
		err := DownloadWithRetry(ctx, retry, func() error {
			return downloadAsset(ctx, DefaultTokenizerURL, m.TokenizerPath(), 0, func(d, t int64) {
				if progressFn != nil {
					progressFn("tokenizer", d, t)
				}
			})
		})
		if err != nil {
			return fmt.Errorf("download tokenizer: %w", err)
		}
	}

	return nil
}

// downloadAsset streams url to destPath via a temp file and atomic rename.
func downloadAsset(ctx context.Context, url, destPath string, sizeHint int64, progressFn func(downloaded, total int64)) error {
	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ragmcp/1.0")

	client := &http.Client{Timeout: AssetDownloadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer file.Close()

	totalSize := resp.ContentLength
	if totalSize <= 0 {
		totalSize = sizeHint
	}

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write: %w", writeErr)
			}
			downloaded += int64(n)
			if progressFn != nil {
				progressFn(downloaded, totalSize)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// DeleteAssets removes the cached model and tokenizer files.
func (m *AssetManager) DeleteAssets() error {
	if err := os.Remove(m.ModelPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(m.TokenizerPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DefaultAssetsDir returns the default assets directory path.
func DefaultAssetsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".ragmcp", "models")
}
