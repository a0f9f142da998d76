package dispatcher

import (
	"context"
	"strconv"
	"time"

	"github.com/morezero/umicp/pkg/envelope"
	"github.com/morezero/umicp/pkg/kernel"
	"github.com/morezero/umicp/pkg/payload"
	"github.com/morezero/umicp/pkg/protoerr"
	"github.com/morezero/umicp/pkg/types"
	"github.com/morezero/umicp/pkg/validate"
)

// Kernel request capabilities and payload reference names.
const (
	CapKernelOp = "kernel.op"
	CapResult   = "result"
	RefA        = "a"
	RefB        = "b"
	RefResult   = "result"
)

// Kernel operation names accepted in kernel.op.
const (
	OpVectorAdd        = "vector_add"
	OpVectorSubtract   = "vector_subtract"
	OpVectorMultiply   = "vector_multiply"
	OpVectorScale      = "vector_scale"
	OpDotProduct       = "dot_product"
	OpCosineSimilarity = "cosine_similarity"
	OpNormalize        = "normalize"
	OpMatrixAdd        = "matrix_add"
	OpMatrixMultiply   = "matrix_multiply"
	OpTranspose        = "transpose"
	OpDeterminant      = "determinant"
	OpInverse          = "inverse"
)

type kernelCall struct {
	e    *envelope.Envelope
	a, b []float32
}

func (d *Dispatcher) handleRequest(_ context.Context, e *envelope.Envelope, _ []byte) (*envelope.Envelope, error) {
	op, ok := e.Capability(CapKernelOp)
	if !ok {
		return nil, protoerr.Validation("Request carries no '%s' capability", CapKernelOp)
	}

	call := kernelCall{e: e}
	var err error
	if call.a, err = operand(e, RefA); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := d.runKernel(op, &call)
	d.observer.KernelCall(op, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	b := d.ReplyTo(e, types.OperationResponse).Capability(CapKernelOp, op)
	switch {
	case res.Scalar != nil:
		b.Capability(CapResult, formatFloat(*res.Scalar))
	case res.Similarity != nil:
		b.Capability(CapResult, formatFloat(*res.Similarity))
	case res.Data != nil:
		ref, err := payload.InlineRef(RefResult, res.Data, types.EncodingFloat32)
		if err != nil {
			return nil, err
		}
		b.PayloadRef(ref).PayloadHint(payload.HintFor(res.Data, types.EncodingFloat32))
	}
	return b.Build()
}

func (d *Dispatcher) runKernel(op string, c *kernelCall) (types.NumericResult, error) {
	k := d.kernel
	switch op {
	case OpVectorAdd, OpVectorSubtract, OpVectorMultiply:
		if err := c.needB(); err != nil {
			return types.NumericResult{}, err
		}
		out := make([]float32, len(c.a))
		var err error
		switch op {
		case OpVectorAdd:
			_, err = k.VectorAdd(c.a, c.b, out)
		case OpVectorSubtract:
			_, err = k.VectorSubtract(c.a, c.b, out)
		default:
			_, err = k.VectorMultiply(c.a, c.b, out)
		}
		return data(out, err)
	case OpVectorScale:
		s, err := floatParam(c.e, "scalar")
		if err != nil {
			return types.NumericResult{}, err
		}
		out := make([]float32, len(c.a))
		_, err = k.VectorScale(c.a, float32(s), out)
		return data(out, err)
	case OpDotProduct:
		if err := c.needB(); err != nil {
			return types.NumericResult{}, err
		}
		return k.DotProduct(c.a, c.b)
	case OpCosineSimilarity:
		if err := c.needB(); err != nil {
			return types.NumericResult{}, err
		}
		return k.CosineSimilarity(c.a, c.b)
	case OpNormalize:
		rows, cols, err := dims2(c.e, "rows", "cols")
		if err != nil {
			return types.NumericResult{}, err
		}
		return k.Normalize(c.a, rows, cols)
	case OpMatrixAdd:
		if err := c.needB(); err != nil {
			return types.NumericResult{}, err
		}
		rows, cols, err := dims2(c.e, "rows", "cols")
		if err != nil {
			return types.NumericResult{}, err
		}
		out := make([]float32, len(c.a))
		_, err = k.Add(c.a, c.b, out, rows, cols)
		return data(out, err)
	case OpMatrixMultiply:
		if err := c.needB(); err != nil {
			return types.NumericResult{}, err
		}
		m, n, err := dims2(c.e, "m", "n")
		if err != nil {
			return types.NumericResult{}, err
		}
		p, err := intParam(c.e, "p")
		if err != nil {
			return types.NumericResult{}, err
		}
		// Checked before allocating out.
		an, aok := kernel.Elements(m, n)
		bn, bok := kernel.Elements(n, p)
		if !aok || !bok || an != len(c.a) || bn != len(c.b) {
			return types.NumericResult{}, protoerr.Matrix(protoerr.ReasonDimensionMismatch,
				"Invalid matrix dimensions: a(%d) != %dx%d or b(%d) != %dx%d", len(c.a), m, n, len(c.b), n, p)
		}
		outLen, ok := kernel.Elements(m, p)
		if !ok || outLen > d.limits.MaxElements {
			return types.NumericResult{}, protoerr.Validation(
				"Result of %dx%d exceeds the limit of %d elements", m, p, d.limits.MaxElements)
		}
		if work, ok := kernel.Elements(len(c.a), p); !ok || work > d.limits.MaxWork {
			return types.NumericResult{}, protoerr.Validation(
				"Multiply of %dx%d by %dx%d exceeds the work limit of %d", m, n, n, p, d.limits.MaxWork)
		}
		out := make([]float32, outLen)
		_, err = k.Multiply(c.a, c.b, out, m, n, p)
		return data(out, err)
	case OpTranspose:
		rows, cols, err := dims2(c.e, "rows", "cols")
		if err != nil {
			return types.NumericResult{}, err
		}
		out := make([]float32, len(c.a))
		_, err = k.Transpose(c.a, out, rows, cols)
		return data(out, err)
	case OpDeterminant:
		size, err := intParam(c.e, "size")
		if err != nil {
			return types.NumericResult{}, err
		}
		return k.Determinant(c.a, size)
	case OpInverse:
		size, err := intParam(c.e, "size")
		if err != nil {
			return types.NumericResult{}, err
		}
		return k.Inverse(c.a, make([]float32, len(c.a)), size)
	default:
		return types.NumericResult{}, protoerr.Validation("Unknown kernel operation: %s", op)
	}
}

func (c *kernelCall) needB() error {
	if c.b != nil {
		return nil
	}
	b, err := operand(c.e, RefB)
	if err != nil {
		return err
	}
	c.b = b
	return nil
}

func operand(e *envelope.Envelope, name string) ([]float32, error) {
	ref, ok := e.PayloadRef(name)
	if !ok {
		return nil, protoerr.Validation("Missing payload reference '%s'", name)
	}
	return payload.ResolveInline(ref)
}

func data(out []float32, err error) (types.NumericResult, error) {
	if err != nil {
		return types.NumericResult{}, err
	}
	return types.NumericResult{Data: out}, nil
}

func intParam(e *envelope.Envelope, key string) (int, error) {
	s, ok := e.Capability(key)
	if !ok {
		return 0, protoerr.Validation("Missing capability '%s'", key)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, protoerr.Validation("Capability '%s' is not an integer: %s", key, s)
	}
	if err := validate.Positive(float64(n), key); err != nil {
		return 0, err
	}
	return n, nil
}

func dims2(e *envelope.Envelope, k1, k2 string) (int, int, error) {
	a, err := intParam(e, k1)
	if err != nil {
		return 0, 0, err
	}
	b, err := intParam(e, k2)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func floatParam(e *envelope.Envelope, key string) (float64, error) {
	s, ok := e.Capability(key)
	if !ok {
		return 0, protoerr.Validation("Missing capability '%s'", key)
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, protoerr.Validation("Capability '%s' is not a number: %s", key, s)
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
