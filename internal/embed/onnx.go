package embed

import (
	"context"
	"fmt"
	"sync"

	onnxruntime "github.com/yalue/onnxruntime_go"
)

// ONNXConfig configures the production embedder.
type ONNXConfig struct {
	ModelPath      string
	TokenizerPath  string
	SharedLibPath  string // optional override for the onnxruntime shared library
	ModelName      string
	Dimensions     int
	MaxSeqLength   int
}

// ONNXEmbedder runs a sentence-encoder ONNX model (e.g.
// multilingual-e5-small) through ONNX Runtime. It is the production
// Embedder: deterministic, CPU-only, and requires the model and
// tokenizer assets named by ONNXConfig to already be on disk -
// AssetManager is responsible for getting them there.
type ONNXEmbedder struct {
	mu      sync.Mutex
	session *onnxruntime.AdvancedSession
	tok     *tokenizer
	cfg     ONNXConfig
	dims    int
	seqLen  int
	closed  bool

	inputIDs  *onnxruntime.Tensor[int64]
	attnMask  *onnxruntime.Tensor[int64]
	output    *onnxruntime.Tensor[float32]
}

var onnxEnvOnce sync.Once
var onnxEnvErr error

// NewONNXEmbedder initializes the ONNX Runtime environment (once per
// process), loads the tokenizer, and builds a fixed-shape inference
// session for batch size 1. EmbedBatch re-creates the session whenever
// a batch's size differs from the current session's batch size.
func NewONNXEmbedder(ctx context.Context, cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.MaxSeqLength <= 0 {
		cfg.MaxSeqLength = MaxSequenceLength
	}

	onnxEnvOnce.Do(func() {
		if cfg.SharedLibPath != "" {
			onnxruntime.SetSharedLibraryPath(cfg.SharedLibPath)
		}
		onnxEnvErr = onnxruntime.InitializeEnvironment()
	})
	if onnxEnvErr != nil {
		return nil, fmt.Errorf("initialize onnx runtime environment: %w", onnxEnvErr)
	}

	tok, err := loadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	e := &ONNXEmbedder{
		tok:    tok,
		cfg:    cfg,
		dims:   cfg.Dimensions,
		seqLen: cfg.MaxSeqLength,
	}

	if err := e.openSession(1); err != nil {
		return nil, err
	}
	return e, nil
}

// openSession (re)creates the fixed-shape input/output tensors and
// inference session for the given batch size, releasing any session
// opened previously.
func (e *ONNXEmbedder) openSession(batchSize int) error {
	e.releaseSession()

	inputIDs, err := onnxruntime.NewEmptyTensor[int64](onnxruntime.NewShape(int64(batchSize), int64(e.seqLen)))
	if err != nil {
		return fmt.Errorf("create input_ids tensor: %w", err)
	}
	attnMask, err := onnxruntime.NewEmptyTensor[int64](onnxruntime.NewShape(int64(batchSize), int64(e.seqLen)))
	if err != nil {
		inputIDs.Destroy()
		return fmt.Errorf("create attention_mask tensor: %w", err)
	}
	output, err := onnxruntime.NewEmptyTensor[float32](onnxruntime.NewShape(int64(batchSize), int64(e.seqLen), int64(e.dims)))
	if err != nil {
		inputIDs.Destroy()
		attnMask.Destroy()
		return fmt.Errorf("create output tensor: %w", err)
	}

	session, err := onnxruntime.NewAdvancedSession(e.cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"last_hidden_state"},
		[]onnxruntime.ArbitraryTensor{inputIDs, attnMask},
		[]onnxruntime.ArbitraryTensor{output},
		nil)
	if err != nil {
		inputIDs.Destroy()
		attnMask.Destroy()
		output.Destroy()
		return fmt.Errorf("create onnx session for %s: %w", e.cfg.ModelPath, err)
	}

	e.session = session
	e.inputIDs = inputIDs
	e.attnMask = attnMask
	e.output = output
	return nil
}

func (e *ONNXEmbedder) releaseSession() {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.inputIDs != nil {
		e.inputIDs.Destroy()
		e.inputIDs = nil
	}
	if e.attnMask != nil {
		e.attnMask.Destroy()
		e.attnMask = nil
	}
	if e.output != nil {
		e.output.Destroy()
		e.output = nil
	}
}

// Embed generates the embedding for a single text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EmbedBatch runs one forward pass over the whole batch: tokenize,
// infer, masked-mean pool, and normalize each row independently.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	if e.session == nil || len(e.inputIDs.GetData())/e.seqLen != len(texts) {
		if err := e.openSession(len(texts)); err != nil {
			return nil, newModelLoadFailed("resize onnx session", err)
		}
	}

	masks := make([][]int32, len(texts))
	idData := e.inputIDs.GetData()
	maskData := e.attnMask.GetData()
	for i, text := range texts {
		ids, mask := e.tok.encode(text, e.seqLen)
		masks[i] = mask
		for j := 0; j < e.seqLen; j++ {
			idData[i*e.seqLen+j] = int64(ids[j])
			maskData[i*e.seqLen+j] = int64(mask[j])
		}
	}

	if err := e.session.Run(); err != nil {
		return nil, newInferenceFailed("onnx session run", err)
	}

	hidden := e.output.GetData()
	out := make([][]float32, len(texts))
	for i := range texts {
		rows := make([][]float32, e.seqLen)
		base := i * e.seqLen * e.dims
		for t := 0; t < e.seqLen; t++ {
			rows[t] = hidden[base+t*e.dims : base+(t+1)*e.dims]
		}
		pooled := maskedMeanPool(rows, masks[i], e.dims)
		out[i] = normalizeVector(pooled)
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int { return e.dims }

// ModelName returns the configured model identifier.
func (e *ONNXEmbedder) ModelName() string { return e.cfg.ModelName }

// Available reports whether the session is open.
func (e *ONNXEmbedder) Available(_ context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && e.session != nil
}

// Close releases the session and its tensors. The shared ONNX Runtime
// environment is process-global and is never torn down.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.releaseSession()
	e.closed = true
	return nil
}
