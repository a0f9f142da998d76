package types

import "testing"

func TestOperationType_Names(t *testing.T) {
	tests := []struct {
		op   OperationType
		name string
	}{
		{OperationControl, "control"},
		{OperationData, "data"},
		{OperationAck, "ack"},
		{OperationError, "error"},
		{OperationRequest, "request"},
		{OperationResponse, "response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op.String(); got != tt.name {
				t.Errorf("types:types_test - String() = %q, want %q", got, tt.name)
			}
			parsed, ok := ParseOperationType(tt.name)
			if !ok || parsed != tt.op {
				t.Errorf("types:types_test - ParseOperationType(%q) = %v,%v, want %v,true", tt.name, parsed, ok, tt.op)
			}
		})
	}
}

func TestOperationType_DefaultIsControl(t *testing.T) {
	var op OperationType
	if op != OperationControl {
		t.Errorf("types:types_test - zero OperationType = %v, want control", op)
	}
}

func TestParse_RejectsUnknown(t *testing.T) {
	if _, ok := ParseOperationType("Data"); ok {
		t.Error("types:types_test - ParseOperationType should be case-sensitive")
	}
	if _, ok := ParseOperationType("publish"); ok {
		t.Error("types:types_test - ParseOperationType accepted unknown name")
	}
	if _, ok := ParsePayloadType("image"); ok {
		t.Error("types:types_test - ParsePayloadType accepted unknown name")
	}
	if _, ok := ParseEncodingType("float16"); ok {
		t.Error("types:types_test - ParseEncodingType accepted unknown name")
	}
}

func TestPayloadType_Names(t *testing.T) {
	for _, name := range []string{"vector", "text", "metadata", "binary"} {
		p, ok := ParsePayloadType(name)
		if !ok {
			t.Fatalf("types:types_test - ParsePayloadType(%q) failed", name)
		}
		if p.String() != name {
			t.Errorf("types:types_test - round trip %q -> %q", name, p.String())
		}
	}
}

func TestEncodingType_ElementSize(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"float32", 4},
		{"float64", 8},
		{"int32", 4},
		{"int64", 8},
		{"uint8", 1},
		{"uint16", 2},
		{"uint32", 4},
		{"uint64", 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, ok := ParseEncodingType(tt.name)
			if !ok {
				t.Fatalf("types:types_test - ParseEncodingType(%q) failed", tt.name)
			}
			if enc.String() != tt.name {
				t.Errorf("types:types_test - String() = %q, want %q", enc.String(), tt.name)
			}
			if enc.ElementSize() != tt.size {
				t.Errorf("types:types_test - ElementSize() = %d, want %d", enc.ElementSize(), tt.size)
			}
		})
	}

	if EncodingType(42).ElementSize() != 0 {
		t.Error("types:types_test - undefined encoding should have zero element size")
	}
}

func TestPayloadHint_Clone(t *testing.T) {
	h := PayloadHint{Type: PayloadVector, Size: Uint64(3072), Encoding: Encoding(EncodingFloat32), Count: Uint64(768)}
	c := h.Clone()

	*c.Size = 1
	*c.Count = 2
	*c.Encoding = EncodingUint8

	if *h.Size != 3072 || *h.Count != 768 || *h.Encoding != EncodingFloat32 {
		t.Error("types:types_test - Clone shares pointers with the original")
	}
}
