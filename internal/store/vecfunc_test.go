package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVecFuncTestDB(t *testing.T) *sql.DB {
	t.Helper()
	require.NoError(t, registerVecFuncs())
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestVecCosineScore_IdenticalVectors(t *testing.T) {
	db := newVecFuncTestDB(t)
	a := vectorToBlob([]float32{1, 0, 0, 0})

	var score float64
	err := db.QueryRowContext(context.Background(), `SELECT vec_cosine_score(?, ?)`, a, a).Scan(&score)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestVecCosineScore_OrthogonalVectors(t *testing.T) {
	db := newVecFuncTestDB(t)
	a := vectorToBlob([]float32{1, 0, 0, 0})
	b := vectorToBlob([]float32{0, 1, 0, 0})

	var score float64
	err := db.QueryRowContext(context.Background(), `SELECT vec_cosine_score(?, ?)`, a, b).Scan(&score)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, score, 1e-6)
}

func TestVecCosineScore_OppositeVectors(t *testing.T) {
	db := newVecFuncTestDB(t)
	a := vectorToBlob([]float32{1, 0, 0, 0})
	b := vectorToBlob([]float32{-1, 0, 0, 0})

	var score float64
	err := db.QueryRowContext(context.Background(), `SELECT vec_cosine_score(?, ?)`, a, b).Scan(&score)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, score, 1e-6)
}

func TestVecCosineScore_LengthMismatch(t *testing.T) {
	db := newVecFuncTestDB(t)
	a := vectorToBlob([]float32{1, 0, 0, 0})
	b := vectorToBlob([]float32{1, 0, 0})

	var score float64
	err := db.QueryRowContext(context.Background(), `SELECT vec_cosine_score(?, ?)`, a, b).Scan(&score)
	assert.Error(t, err)
}

func TestVectorBlobRoundtrip(t *testing.T) {
	v := []float32{0.5, -0.25, 1.0, 0.0, -1.0}
	blob := vectorToBlob(v)
	assert.Equal(t, len(v)*4, len(blob))

	got := blobToVector(blob)
	require.Len(t, got, len(v))
	for i := range v {
		assert.InDelta(t, v[i], got[i], 1e-6)
	}
}

func TestBlobToVector_Empty(t *testing.T) {
	assert.Nil(t, blobToVector(nil))
	assert.Nil(t, blobToVector([]byte{}))
}
