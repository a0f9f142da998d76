package kernel

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/umicp/pkg/protoerr"
)

func TestVectorElementwise(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}

	tests := []struct {
		name     string
		op       func(a, b, out []float32) error
		expected []float32
	}{
		{"Add", func(a, b, out []float32) error { _, err := VectorAdd(a, b, out); return err }, []float32{5, 7, 9}},
		{"Subtract", func(a, b, out []float32) error { _, err := VectorSubtract(a, b, out); return err }, []float32{-3, -3, -3}},
		{"Multiply", func(a, b, out []float32) error { _, err := VectorMultiply(a, b, out); return err }, []float32{4, 10, 18}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]float32, 3)
			require.NoError(t, tt.op(a, b, out))
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestVectorScale(t *testing.T) {
	out := make([]float32, 3)
	res, err := VectorScale([]float32{1, -2, 3}, 2.5, out)
	require.NoError(t, err)
	assert.Equal(t, []float32{2.5, -5, 7.5}, out)
	assert.Nil(t, res.Scalar)
	assert.Nil(t, res.Data)

	_, err = VectorScale([]float32{1, 2}, 2, make([]float32, 3))
	require.Error(t, err)
	assert.True(t, protoerr.IsReason(err, protoerr.ReasonDimensionMismatch))
}

func TestDimensionMismatchLeavesOutputUntouched(t *testing.T) {
	sentinel := []float32{-7, -7}

	ops := map[string]func(out []float32) error{
		"VectorAdd": func(out []float32) error {
			_, err := VectorAdd([]float32{1, 2}, []float32{1, 2, 3}, out)
			return err
		},
		"VectorSubtract": func(out []float32) error {
			_, err := VectorSubtract([]float32{1, 2}, []float32{1, 2, 3}, out)
			return err
		},
		"VectorMultiply": func(out []float32) error {
			_, err := VectorMultiply([]float32{1, 2}, []float32{1, 2, 3}, out)
			return err
		},
		"Add": func(out []float32) error {
			_, err := Add([]float32{1, 2}, []float32{1, 2, 3}, out, 1, 2)
			return err
		},
		"Multiply": func(out []float32) error {
			_, err := Multiply([]float32{1, 2, 3}, []float32{1, 2}, out, 1, 2, 2)
			return err
		},
		"Transpose": func(out []float32) error {
			_, err := Transpose([]float32{1, 2, 3}, out, 1, 2)
			return err
		},
		"Inverse": func(out []float32) error {
			_, err := Inverse([]float32{1, 2, 3}, out, 2)
			return err
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			out := append([]float32(nil), sentinel...)
			err := op(out)
			require.Error(t, err)
			assert.True(t, errors.Is(err, protoerr.ErrMatrix))
			assert.True(t, protoerr.IsReason(err, protoerr.ReasonDimensionMismatch))
			assert.Equal(t, sentinel, out)
		})
	}
}

func TestOverflowingDimensionsRejected(t *testing.T) {
	const huge = 1 << 62

	ops := map[string]func() error{
		"Normalize": func() error {
			_, err := Normalize([]float32{}, huge, 4)
			return err
		},
		"Add": func() error {
			_, err := Add(nil, nil, nil, huge, 4)
			return err
		},
		"Multiply": func() error {
			_, err := Multiply([]float32{}, make([]float32, 16), []float32{}, huge, 4, 4)
			return err
		},
		"Transpose": func() error {
			_, err := Transpose([]float32{}, []float32{}, huge, 4)
			return err
		},
		"Determinant": func() error {
			_, err := Determinant([]float32{}, 1<<32)
			return err
		},
		"Inverse": func() error {
			_, err := Inverse([]float32{}, []float32{}, 1<<32)
			return err
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { err = op() })
			require.Error(t, err)
			assert.True(t, protoerr.IsReason(err, protoerr.ReasonDimensionMismatch), "got %v", err)
		})
	}
}

func TestElements(t *testing.T) {
	tests := []struct {
		x, y   int
		want   int
		wantOK bool
	}{
		{3, 4, 12, true},
		{0, math.MaxInt, 0, true},
		{-1, 4, 0, false},
		{1 << 62, 4, 0, false},
		{math.MaxInt, 2, 0, false},
	}
	for _, tt := range tests {
		got, ok := Elements(tt.x, tt.y)
		assert.Equal(t, tt.wantOK, ok, "Elements(%d, %d)", tt.x, tt.y)
		assert.Equal(t, tt.want, got, "Elements(%d, %d)", tt.x, tt.y)
	}
}

func TestDotProduct(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{1, 2, 3}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
		{"Large", ones(1024), ones(1024), 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DotProduct(tt.a, tt.b)
			require.NoError(t, err)
			require.NotNil(t, res.Scalar)
			assert.Equal(t, tt.expected, *res.Scalar)
			assert.Nil(t, res.Similarity)
			assert.Nil(t, res.Data)
		})
	}

	_, err := DotProduct([]float32{1, 2}, []float32{1})
	require.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	t.Run("Identical", func(t *testing.T) {
		v := []float32{1, 2, 3}
		res, err := CosineSimilarity(v, v)
		require.NoError(t, err)
		require.NotNil(t, res.Similarity)
		assert.InDelta(t, 1.0, *res.Similarity, 1e-6)
		assert.Nil(t, res.Scalar)
	})

	t.Run("Orthogonal", func(t *testing.T) {
		res, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, *res.Similarity, 1e-6)
	})

	t.Run("Opposite", func(t *testing.T) {
		res, err := CosineSimilarity([]float32{1, 2}, []float32{-1, -2})
		require.NoError(t, err)
		assert.InDelta(t, -1.0, *res.Similarity, 1e-6)
	})

	t.Run("ZeroVectorIsZero", func(t *testing.T) {
		res, err := CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3})
		require.NoError(t, err)
		require.NotNil(t, res.Similarity)
		assert.Equal(t, 0.0, *res.Similarity)
		assert.False(t, math.IsNaN(*res.Similarity))

		res, err = CosineSimilarity([]float32{0, 0}, []float32{0, 0})
		require.NoError(t, err)
		assert.Equal(t, 0.0, *res.Similarity)
	})

	t.Run("Mismatch", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
		require.Error(t, err)
	})
}

func TestNormalize(t *testing.T) {
	m := []float32{
		3, 4,
		0, 0,
		0, 5,
	}
	res, err := Normalize(m, 3, 2)
	require.NoError(t, err)

	assert.InDelta(t, 0.6, m[0], 1e-6)
	assert.InDelta(t, 0.8, m[1], 1e-6)
	assert.Equal(t, float32(0), m[2])
	assert.Equal(t, float32(0), m[3])
	assert.InDelta(t, 1.0, m[5], 1e-6)
	assert.Equal(t, m, res.Data)

	_, err = Normalize(m, 2, 2)
	require.Error(t, err)
}

func TestAdd(t *testing.T) {
	out := make([]float32, 4)
	_, err := Add([]float32{1, 2, 3, 4}, []float32{10, 20, 30, 40}, out, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22, 33, 44}, out)
}

func TestMultiply(t *testing.T) {
	out := []float32{99, 99, 99, 99}
	_, err := Multiply([]float32{1, 2, 3, 4}, []float32{5, 6, 7, 8}, out, 2, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{19, 22, 43, 50}, out)

	// 2x3 * 3x1
	out = make([]float32, 2)
	_, err = Multiply([]float32{1, 2, 3, 4, 5, 6}, []float32{1, 0, -1}, out, 2, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{-2, -2}, out)
}

func TestMultiply_ParallelMatchesSequential(t *testing.T) {
	const m, n, p = 64, 48, 40
	rng := rand.New(rand.NewSource(7))
	a := randomMatrix(rng, m*n)
	b := randomMatrix(rng, n*p)

	seq := New(WithParallelThreshold(0))
	par := New(WithParallelThreshold(1), WithMaxWorkers(5))

	want := make([]float32, m*p)
	got := make([]float32, m*p)
	_, err := seq.Multiply(a, b, want, m, n, p)
	require.NoError(t, err)
	_, err = par.Multiply(a, b, got, m, n, p)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestTranspose(t *testing.T) {
	out := make([]float32, 4)
	_, err := Transpose([]float32{1, 2, 3, 4}, out, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 3, 2, 4}, out)

	out = make([]float32, 6)
	_, err = Transpose([]float32{1, 2, 3, 4, 5, 6}, out, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out)
}

func TestDeterminant(t *testing.T) {
	res, err := Determinant([]float32{1, 2, 3, 4}, 2)
	require.NoError(t, err)
	assert.Equal(t, -2.0, *res.Scalar)

	res, err = Determinant([]float32{7}, 1)
	require.NoError(t, err)
	assert.Equal(t, 7.0, *res.Scalar)

	_, err = Determinant(make([]float32, 9), 3)
	require.Error(t, err)
	assert.True(t, protoerr.IsReason(err, protoerr.ReasonUnimplemented))

	_, err = Determinant([]float32{1, 2, 3}, 2)
	require.Error(t, err)
	assert.True(t, protoerr.IsReason(err, protoerr.ReasonDimensionMismatch))
}

func TestInverse(t *testing.T) {
	t.Run("Singular", func(t *testing.T) {
		out := []float32{-1, -1, -1, -1}
		_, err := Inverse([]float32{4, 2, 2, 1}, out, 2)
		require.Error(t, err)
		assert.True(t, protoerr.IsReason(err, protoerr.ReasonSingular))
		assert.Equal(t, []float32{-1, -1, -1, -1}, out)
	})

	t.Run("ProductIsIdentity", func(t *testing.T) {
		m := []float32{2, 1, 1, 3}
		inv := make([]float32, 4)
		res, err := Inverse(m, inv, 2)
		require.NoError(t, err)
		assert.Equal(t, inv, res.Data)

		prod := make([]float32, 4)
		_, err = Multiply(m, inv, prod, 2, 2, 2)
		require.NoError(t, err)

		identity := []float32{1, 0, 0, 1}
		for i := range identity {
			assert.InDelta(t, identity[i], prod[i], 1e-6)
		}
	})

	t.Run("Unimplemented", func(t *testing.T) {
		_, err := Inverse(make([]float32, 9), make([]float32, 9), 3)
		require.Error(t, err)
		assert.True(t, protoerr.IsReason(err, protoerr.ReasonUnimplemented))
	})
}

func TestKernel_ConcurrentUse(t *testing.T) {
	k := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := make([]float32, 4)
			_, err := k.Multiply([]float32{1, 2, 3, 4}, []float32{5, 6, 7, 8}, out, 2, 2, 2)
			assert.NoError(t, err)
			assert.Equal(t, []float32{19, 22, 43, 50}, out)
		}()
	}
	wg.Wait()
}

func ones(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func randomMatrix(rng *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}
