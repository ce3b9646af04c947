package compressor

import (
	"testing"

	"github.com/gradflow/gradflow/lib/tensor"
)

// TestCreateLeaf tests constructing a bare topk compressor
func TestCreateLeaf(t *testing.T) {
	c := Create(Kwargs{
		"compressor_type": "topk",
		"compressor_k":    "2",
	}, 16, tensor.Float32)

	if _, ok := c.(*topK); !ok {
		t.Fatalf("got %T, want *topK", c)
	}
}

// TestCreateChain tests decorator-chain construction: momentum wraps error
// feedback wraps the leaf
func TestCreateChain(t *testing.T) {
	c := Create(Kwargs{
		"compressor_type": "topk",
		"compressor_k":    "2",
		"ef_type":         "vanilla_ef",
		"momentum_type":   "nesterov_momentum",
		"momentum_mu":     "0.9",
	}, 16, tensor.Float32)

	mom, ok := c.(*nesterovMomentum)
	if !ok {
		t.Fatalf("outermost is %T, want *nesterovMomentum", c)
	}
	ef, ok := mom.inner.(*vanillaEF)
	if !ok {
		t.Fatalf("middle is %T, want *vanillaEF", mom.inner)
	}
	if _, ok := ef.inner.(*topK); !ok {
		t.Fatalf("leaf is %T, want *topK", ef.inner)
	}
}

// TestCreateFractionalK tests the fraction-of-tensor interpretation of
// compressor_k
func TestCreateFractionalK(t *testing.T) {
	c := Create(Kwargs{
		"compressor_type": "topk",
		"compressor_k":    "0.5",
	}, 32, tensor.Float32)

	if got := c.(*topK).k; got != 4 {
		t.Errorf("k = %d, want 4 (half of 8 elements)", got)
	}
}

// TestCreateUnknownName tests that an unknown compressor name is fatal
func TestCreateUnknownName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("unknown compressor should panic")
		}
	}()
	Create(Kwargs{"compressor_type": "gzip"}, 16, tensor.Float32)
}

// TestRegisterDuplicate tests that double registration is fatal
func TestRegisterDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration should panic")
		}
	}()
	Register("topk", newTopKFromKwargs)
}
