// Package embed turns text into fixed-dimension, unit-norm vectors.
//
// Two variants implement the [Embedder] interface: a production embedder
// backed by an ONNX encoder loaded from disk (onnx.go), and a mock
// embedder that derives a deterministic vector from a hash of the input
// (static.go), used in tests and as an offline fallback. The ONNX
// embedder pools per-token hidden states with a masked mean; both
// L2-normalize non-empty results, so callers can use a dot product as
// cosine similarity.
package embed

import (
	"context"
	"math"
)

// MaxSequenceLength is the maximum number of subword tokens fed to the
// production encoder; longer inputs are truncated.
const MaxSequenceLength = 512

// DefaultDimensions is the embedding dimension for the default model
// (multilingual-e5-small).
const DefaultDimensions = 384

// DefaultBatchSize is a suggested batch size for callers; the embedders
// in this package do not split an EmbedBatch call by it.
const DefaultBatchSize = 32

// Embedder generates vector embeddings for text.
//
// Embed and EmbedBatch are deterministic for a fixed model and
// tokenizer: embed(x) always returns the same vector, and
// EmbedBatch([x,y,z])[i] == Embed([x,y,z][i]) within floating point
// tolerance. Every vector returned for non-empty text has unit L2 norm.
type Embedder interface {
	// Embed generates the embedding for a single text. An empty string
	// is accepted: the ONNX embedder returns the normalized embedding of
	// the model's default token sequence (just the special tokens), while
	// the static embedder returns an all-zero vector for empty or
	// whitespace-only text, which has no unit norm.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in as few
	// inference calls as the implementation needs. Callers should
	// prefer this over calling Embed in a loop so the sync engine can
	// amortize per-call overhead across a document's chunks.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns D, the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier, used as part of the
	// cache key and recorded against the index for dimension-mismatch
	// detection.
	ModelName() string

	// Available reports whether the embedder is ready to serve requests.
	Available(ctx context.Context) bool

	// Close releases any resources (model session, tokenizer) held by
	// the embedder.
	Close() error
}

// embedderError carries one of the two Embedder-level failure kinds
// named by the spec (ModelLoadFailed, InferenceFailed). Neither is
// retried inside the Embedder; callers decide whether and how to retry.
type embedderError struct {
	kind string
	msg  string
	err  error
}

func (e *embedderError) Error() string {
	if e.err != nil {
		return e.kind + ": " + e.msg + ": " + e.err.Error()
	}
	return e.kind + ": " + e.msg
}

func (e *embedderError) Unwrap() error { return e.err }

func newModelLoadFailed(msg string, cause error) error {
	return &embedderError{kind: "ModelLoadFailed", msg: msg, err: cause}
}

func newInferenceFailed(msg string, cause error) error {
	return &embedderError{kind: "InferenceFailed", msg: msg, err: cause}
}

// maskedMeanPool computes the masked mean of per-token hidden states
// along the sequence dimension. hidden is [seqLen][dim] and mask is
// [seqLen] (1 for real tokens, 0 for padding). The mask sum is clamped
// to at least 1 to avoid division by zero on an all-padding sequence.
func maskedMeanPool(hidden [][]float32, mask []int32, dim int) []float32 {
	sum := make([]float64, dim)
	var maskSum float64
	for t, weight := range mask {
		if weight == 0 {
			continue
		}
		maskSum++
		row := hidden[t]
		for d := 0; d < dim; d++ {
			sum[d] += float64(row[d])
		}
	}
	if maskSum < 1 {
		maskSum = 1
	}

	pooled := make([]float32, dim)
	for d := 0; d < dim; d++ {
		pooled[d] = float32(sum[d] / maskSum)
	}
	return pooled
}

// normalizeVector L2-normalizes v; a zero vector is returned unchanged
// since it has no direction to normalize toward.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
