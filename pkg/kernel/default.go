package kernel

import "github.com/morezero/umicp/pkg/types"

var std = New()

// Default returns the shared Kernel used by the package-level functions.
func Default() *Kernel { return std }

func VectorAdd(a, b, out []float32) (types.NumericResult, error) { return std.VectorAdd(a, b, out) }

func VectorSubtract(a, b, out []float32) (types.NumericResult, error) {
	return std.VectorSubtract(a, b, out)
}

func VectorMultiply(a, b, out []float32) (types.NumericResult, error) {
	return std.VectorMultiply(a, b, out)
}

func VectorScale(v []float32, s float32, out []float32) (types.NumericResult, error) {
	return std.VectorScale(v, s, out)
}

func DotProduct(a, b []float32) (types.NumericResult, error) { return std.DotProduct(a, b) }

func CosineSimilarity(a, b []float32) (types.NumericResult, error) {
	return std.CosineSimilarity(a, b)
}

func Normalize(m []float32, rows, cols int) (types.NumericResult, error) {
	return std.Normalize(m, rows, cols)
}

func Add(a, b, out []float32, rows, cols int) (types.NumericResult, error) {
	return std.Add(a, b, out, rows, cols)
}

func Multiply(a, b, out []float32, m, n, p int) (types.NumericResult, error) {
	return std.Multiply(a, b, out, m, n, p)
}

func Transpose(in, out []float32, rows, cols int) (types.NumericResult, error) {
	return std.Transpose(in, out, rows, cols)
}

func Determinant(m []float32, size int) (types.NumericResult, error) {
	return std.Determinant(m, size)
}

func Inverse(m, out []float32, size int) (types.NumericResult, error) {
	return std.Inverse(m, out, size)
}
