package compressor

import (
	"sync"

	"github.com/gradflow/gradflow/lib/tensor"
)

// --------------------------------------------------------------------------
// Constructor Registry
// --------------------------------------------------------------------------

// Factory builds one compressor. Leaf factories receive inner == nil;
// decorator factories require a non-nil inner compressor to wrap.
type Factory func(kw Kwargs, size int, dtype tensor.DataType, inner Compressor) Compressor

var (
	registryOnce sync.Once
	factories    map[string]Factory
)

// ensureRegistry builds the constructor table exactly once.
func ensureRegistry() {
	registryOnce.Do(func() {
		factories = map[string]Factory{
			"topk":              newTopKFromKwargs,
			"vanilla_ef":        newVanillaEFFromKwargs,
			"corrected_ef":      newCorrectedEFFromKwargs,
			"sparse_ef":         newSparseEFFromKwargs,
			"nesterov_momentum": newNesterovFromKwargs,
		}
	})
}

// Register adds a named factory. Registering an existing name is fatal.
func Register(name string, f Factory) {
	ensureRegistry()
	if _, ok := factories[name]; ok {
		plog.Panicf("compressor %q registered twice", name)
	}
	factories[name] = f
}

// Create builds a compressor chain from kwargs for a tensor of the given
// byte size and dtype. The leaf is selected by "compressor_type"; an
// optional "ef_type" decorator and an optional "momentum_type" decorator
// wrap it, innermost first. Unknown names and missing required
// hyper-parameters are fatal configuration errors.
func Create(kw Kwargs, size int, dtype tensor.DataType) Compressor {
	ensureRegistry()

	ctype := FindHyperParam[string](kw, "compressor_type", false, func(s string) bool { return s != "" })
	c := mustFactory(ctype)(kw, size, dtype, nil)

	if efType := FindHyperParam[string](kw, "ef_type", true, nil); efType != "" {
		c = mustFactory(efType)(kw, size, dtype, c)
	}
	if momType := FindHyperParam[string](kw, "momentum_type", true, nil); momType != "" {
		c = mustFactory(momType)(kw, size, dtype, c)
	}
	return c
}

func mustFactory(name string) Factory {
	f, ok := factories[name]
	if !ok {
		plog.Panicf("unknown compressor %q", name)
	}
	return f
}

// --------------------------------------------------------------------------
// Kwargs-Driven Constructors
// --------------------------------------------------------------------------

// resolveK turns the "compressor_k" hyper-parameter into an element count:
// values below 1 are a fraction of the tensor, everything else an absolute
// count.
func resolveK(kw Kwargs, size int, dtype tensor.DataType) int {
	factor := FindHyperParam[float64](kw, "compressor_k", false, func(x float64) bool { return x > 0 })
	if factor < 1 {
		k := int(factor * float64(size/dtype.Size()))
		if k == 0 {
			k = 1
		}
		return k
	}
	return int(factor)
}

func newTopKFromKwargs(kw Kwargs, size int, dtype tensor.DataType, _ Compressor) Compressor {
	k := resolveK(kw, size, dtype)
	plog.Infof("topk compressor is registered, size=%d k=%d", size, k)
	return NewTopK(size, dtype, k)
}

func newVanillaEFFromKwargs(_ Kwargs, size int, dtype tensor.DataType, inner Compressor) Compressor {
	requireInner(inner, "vanilla_ef")
	plog.Infof("vanilla error feedback is registered")
	return NewVanillaEF(size, dtype, inner)
}

func newCorrectedEFFromKwargs(_ Kwargs, size int, dtype tensor.DataType, inner Compressor) Compressor {
	requireInner(inner, "corrected_ef")
	plog.Infof("corrected error feedback is registered")
	return NewCorrectedEF(size, dtype, inner, mustOpenLR())
}

func newSparseEFFromKwargs(kw Kwargs, size int, dtype tensor.DataType, inner Compressor) Compressor {
	requireInner(inner, "sparse_ef")
	k := resolveK(kw, size, dtype)
	seed := FindHyperParam[uint64](kw, "seed", true, func(x uint64) bool { return x != 0 })
	plog.Infof("sparse error feedback is registered, size=%d k=%d seed=%d", size, k, seed)
	return NewSparseEF(size, dtype, inner, k, seed, mustOpenLR())
}

func newNesterovFromKwargs(kw Kwargs, size int, dtype tensor.DataType, inner Compressor) Compressor {
	requireInner(inner, "nesterov_momentum")
	mu := FindHyperParam[float64](kw, "momentum_mu", false, nil)
	plog.Infof("nesterov momentum is registered, mu=%f", mu)
	return NewNesterovMomentum(size, dtype, inner, mu)
}

func requireInner(inner Compressor, name string) {
	if inner == nil {
		plog.Panicf("%s is a decorator and needs an inner compressor", name)
	}
}
