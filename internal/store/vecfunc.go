package store

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"modernc.org/sqlite"
)

const vecCosineScoreFuncName = "vec_cosine_score"

var (
	registerVecFuncsOnce sync.Once
	registerVecFuncsErr  error
)

// registerVecFuncs installs vec_cosine_score(blob, blob) as a SQL scalar
// function on the modernc.org/sqlite driver. Registration is process-global
// and idempotent; every Store that opens a database calls this before the
// first query that references the function.
func registerVecFuncs() error {
	registerVecFuncsOnce.Do(func() {
		registerVecFuncsErr = sqlite.RegisterScalarFunction(vecCosineScoreFuncName, 2, vecCosineScore)
	})
	return registerVecFuncsErr
}

// vecCosineScore computes the cosine similarity of two little-endian
// float32 blobs of equal length. Embedding vectors are stored unit-norm
// (the Embedder guarantees this at write time), so the dot product alone
// equals the cosine similarity; this avoids two extra sqrt passes per row.
func vecCosineScore(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("%s: argument 1 is not a blob", vecCosineScoreFuncName)
	}
	b, ok := args[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("%s: argument 2 is not a blob", vecCosineScoreFuncName)
	}
	if len(a) != len(b) {
		return nil, ErrSchemaMismatch{Expected: len(a), Got: len(b)}
	}
	if len(a)%4 != 0 {
		return nil, fmt.Errorf("%s: blob length %d is not a multiple of 4", vecCosineScoreFuncName, len(a))
	}

	var dot float64
	for i := 0; i+4 <= len(a); i += 4 {
		av := math.Float32frombits(binary.LittleEndian.Uint32(a[i : i+4]))
		bv := math.Float32frombits(binary.LittleEndian.Uint32(b[i : i+4]))
		dot += float64(av) * float64(bv)
	}
	return dot, nil
}

// vectorToBlob encodes a float32 vector as a little-endian byte blob for
// storage in the chunks.embedding column.
func vectorToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// blobToVector decodes a chunks.embedding column back into a float32 vector.
func blobToVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
