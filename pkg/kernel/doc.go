// Package kernel implements the vector and matrix arithmetic used to prepare and consume
// numeric envelope payloads.
//
// All operations work on caller-owned []float32 buffers. Matrices are row-major. Every
// operation checks buffer lengths against the declared dimensions before reading or writing
// any element; on error the output buffer is untouched.
//
// # Degenerate cases
//
//   - CosineSimilarity returns 0 when either vector has zero magnitude.
//   - Normalize leaves zero-norm rows unchanged.
//   - Determinant is closed-form for sizes 1 and 2 and Inverse for 2x2 only; other sizes
//     fail with protoerr.ReasonUnimplemented. A singular 2x2 fails Inverse with
//     protoerr.ReasonSingular.
//
// # Backends
//
// Kernel is stateless and safe for concurrent use. The only alternative code path is the
// row-partitioned Multiply for large products, which sums each cell in the same order as the
// sequential loop and therefore produces bit-identical results. An accelerated backend
// (SIMD dot products, BLAS multiply) would replace dot and multiplyRows.
//
// # Usage
//
//	res, err := kernel.DotProduct(a, b)
//	out := make([]float32, m*p)
//	_, err = kernel.Multiply(a, b, out, m, n, p)
package kernel
