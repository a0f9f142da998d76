package kernel

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/morezero/umicp/pkg/protoerr"
	"github.com/morezero/umicp/pkg/types"
)

// DefaultParallelThreshold is the m*n*p work size above which Multiply partitions rows.
const DefaultParallelThreshold = 10000

// Kernel runs numeric operations. The zero value is usable and always sequential.
type Kernel struct {
	parallelThreshold int
	maxWorkers        int
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithParallelThreshold sets the m*n*p size above which Multiply runs in parallel.
// Zero or negative disables the parallel path.
func WithParallelThreshold(n int) Option {
	return func(k *Kernel) { k.parallelThreshold = n }
}

// WithMaxWorkers bounds the goroutines used by a parallel Multiply.
func WithMaxWorkers(n int) Option {
	return func(k *Kernel) { k.maxWorkers = n }
}

// New returns a Kernel with the default parallel threshold.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		parallelThreshold: DefaultParallelThreshold,
		maxWorkers:        runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.maxWorkers < 1 {
		k.maxWorkers = 1
	}
	return k
}

func scalar(v float64) types.NumericResult {
	return types.NumericResult{Scalar: &v}
}

func similarity(v float64) types.NumericResult {
	return types.NumericResult{Similarity: &v}
}

// Elements returns x*y, or false when either factor is negative or the product overflows int.
// Every shape check goes through it so wrapped products never match a buffer length.
func Elements(x, y int) (int, bool) {
	if x < 0 || y < 0 {
		return 0, false
	}
	if x != 0 && y > math.MaxInt/x {
		return 0, false
	}
	return x * y, true
}

// shape reports whether buf holds exactly rows*cols elements.
func shape(buf []float32, rows, cols int) bool {
	n, ok := Elements(rows, cols)
	return ok && len(buf) == n
}

func vectorMismatch3(a, b, out int) error {
	return protoerr.Matrix(protoerr.ReasonDimensionMismatch,
		"Vector length mismatch: a(%d), b(%d), result(%d)", a, b, out)
}

// VectorAdd sets out[i] = a[i] + b[i].
func (k *Kernel) VectorAdd(a, b, out []float32) (types.NumericResult, error) {
	if len(a) != len(b) || len(a) != len(out) {
		return types.NumericResult{}, vectorMismatch3(len(a), len(b), len(out))
	}
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return types.NumericResult{}, nil
}

// VectorSubtract sets out[i] = a[i] - b[i].
func (k *Kernel) VectorSubtract(a, b, out []float32) (types.NumericResult, error) {
	if len(a) != len(b) || len(a) != len(out) {
		return types.NumericResult{}, vectorMismatch3(len(a), len(b), len(out))
	}
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return types.NumericResult{}, nil
}

// VectorMultiply sets out[i] = a[i] * b[i] (Hadamard product).
func (k *Kernel) VectorMultiply(a, b, out []float32) (types.NumericResult, error) {
	if len(a) != len(b) || len(a) != len(out) {
		return types.NumericResult{}, vectorMismatch3(len(a), len(b), len(out))
	}
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return types.NumericResult{}, nil
}

// VectorScale sets out[i] = v[i] * s.
func (k *Kernel) VectorScale(v []float32, s float32, out []float32) (types.NumericResult, error) {
	if len(v) != len(out) {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonDimensionMismatch,
			"Vector length mismatch: vector(%d), result(%d)", len(v), len(out))
	}
	for i := range v {
		out[i] = v[i] * s
	}
	return types.NumericResult{}, nil
}

// DotProduct returns the scalar sum of a[i]*b[i].
func (k *Kernel) DotProduct(a, b []float32) (types.NumericResult, error) {
	if len(a) != len(b) {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonDimensionMismatch,
			"Vector length mismatch: a(%d) != b(%d)", len(a), len(b))
	}
	return scalar(float64(dot(a, b))), nil
}

// CosineSimilarity returns dot(a,b) / (|a| * |b|), or 0 when either magnitude is zero.
func (k *Kernel) CosineSimilarity(a, b []float32) (types.NumericResult, error) {
	if len(a) != len(b) {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonDimensionMismatch,
			"Vector length mismatch: a(%d) != b(%d)", len(a), len(b))
	}
	magA := sqrt32(dot(a, a))
	magB := sqrt32(dot(b, b))
	if magA == 0 || magB == 0 {
		return similarity(0), nil
	}
	return similarity(float64(dot(a, b) / (magA * magB))), nil
}

// Normalize L2-normalizes each row of a rows x cols matrix in place.
// Rows with zero norm are left unchanged. The result carries a copy of the buffer.
func (k *Kernel) Normalize(m []float32, rows, cols int) (types.NumericResult, error) {
	if !shape(m, rows, cols) {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonDimensionMismatch,
			"Invalid matrix dimensions: matrix(%d) != %dx%d", len(m), rows, cols)
	}
	for r := 0; r < rows; r++ {
		row := m[r*cols : (r+1)*cols]
		norm := sqrt32(dot(row, row))
		if norm > 0 {
			for i := range row {
				row[i] /= norm
			}
		}
	}
	return types.NumericResult{Data: append([]float32(nil), m...)}, nil
}

// Add sets out = a + b for rows x cols matrices.
func (k *Kernel) Add(a, b, out []float32, rows, cols int) (types.NumericResult, error) {
	n, ok := Elements(rows, cols)
	if !ok || len(a) != n || len(b) != n || len(out) != n {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonDimensionMismatch,
			"Invalid matrix dimensions: expected %dx%d (%d elements), got a(%d), b(%d), result(%d)",
			rows, cols, n, len(a), len(b), len(out))
	}
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return types.NumericResult{}, nil
}

// Multiply sets out = a * b where a is m x n and b is n x p.
func (k *Kernel) Multiply(a, b, out []float32, m, n, p int) (types.NumericResult, error) {
	if !shape(a, m, n) || !shape(b, n, p) || !shape(out, m, p) {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonDimensionMismatch,
			"Invalid matrix dimensions: a(%d) != %dx%d, b(%d) != %dx%d, result(%d) != %dx%d",
			len(a), m, n, len(b), n, p, len(out), m, p)
	}

	clear(out)

	work, ok := Elements(len(a), p)
	if k.parallelThreshold > 0 && (!ok || work > k.parallelThreshold) && m > 1 && k.workers() > 1 {
		k.multiplyParallel(a, b, out, m, n, p)
	} else {
		multiplyRows(a, b, out, 0, m, n, p)
	}
	return types.NumericResult{}, nil
}

func (k *Kernel) workers() int {
	if k.maxWorkers < 1 {
		return 1
	}
	return k.maxWorkers
}

// multiplyParallel gives each goroutine a disjoint band of output rows.
func (k *Kernel) multiplyParallel(a, b, out []float32, m, n, p int) {
	workers := k.workers()
	if workers > m {
		workers = m
	}
	band := (m + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < m; start += band {
		end := min(start+band, m)
		g.Go(func() error {
			multiplyRows(a, b, out, start, end, n, p)
			return nil
		})
	}
	_ = g.Wait()
}

// multiplyRows accumulates rows [from, to) of the product into a zeroed out.
func multiplyRows(a, b, out []float32, from, to, n, p int) {
	for i := from; i < to; i++ {
		for j := 0; j < p; j++ {
			var sum float32
			for kk := 0; kk < n; kk++ {
				sum += a[i*n+kk] * b[kk*p+j]
			}
			out[i*p+j] = sum
		}
	}
}

// Transpose writes the cols x rows transpose of in to out.
func (k *Kernel) Transpose(in, out []float32, rows, cols int) (types.NumericResult, error) {
	if !shape(in, rows, cols) || !shape(out, cols, rows) {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonDimensionMismatch,
			"Invalid transpose dimensions: input(%d) != %dx%d, output(%d) != %dx%d",
			len(in), rows, cols, len(out), cols, rows)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = in[i*cols+j]
		}
	}
	return types.NumericResult{}, nil
}

// Determinant returns the determinant of a size x size matrix. Only sizes 1 and 2 are supported.
func (k *Kernel) Determinant(m []float32, size int) (types.NumericResult, error) {
	if size < 1 || !shape(m, size, size) {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonDimensionMismatch,
			"Invalid matrix dimensions for determinant: matrix(%d) != %dx%d", len(m), size, size)
	}
	switch size {
	case 1:
		return scalar(float64(m[0])), nil
	case 2:
		return scalar(float64(det2(m))), nil
	default:
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonUnimplemented,
			"Determinant calculation for matrices larger than 2x2 not yet implemented")
	}
}

// Inverse writes the inverse of a 2x2 matrix to out.
func (k *Kernel) Inverse(m, out []float32, size int) (types.NumericResult, error) {
	if size < 1 || !shape(m, size, size) || !shape(out, size, size) {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonDimensionMismatch,
			"Invalid matrix dimensions for inverse: matrix(%d) != %dx%d, result(%d) != %dx%d",
			len(m), size, size, len(out), size, size)
	}
	if size != 2 {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonUnimplemented,
			"Matrix inverse for matrices other than 2x2 not yet implemented")
	}

	d := det2(m)
	if d == 0 {
		return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonSingular,
			"Matrix is singular, cannot compute inverse")
	}

	a, b, c, e := m[0], m[1], m[2], m[3]
	out[0] = e / d
	out[1] = -b / d
	out[2] = -c / d
	out[3] = a / d
	return types.NumericResult{Data: append([]float32(nil), out...)}, nil
}

func det2(m []float32) float32 {
	return m[0]*m[3] - m[1]*m[2]
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}
