package compressor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Kwargs Codec
// --------------------------------------------------------------------------

// Kwargs holds the hyper-parameters of a compressor chain as string pairs.
// Typed parsing happens at lookup time via FindHyperParam.
type Kwargs map[string]string

// Serialize renders kwargs in the wire format "<N> <k1> <v1> ... <kN> <vN>".
// Keys are emitted in sorted order for deterministic output.
func Serialize(kw Kwargs) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(len(kw)))

	keys := make([]string, 0, len(kw))
	for k := range kw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString(" ")
		sb.WriteString(kw[k])
	}
	return sb.String()
}

// Deserialize parses the wire format produced by Serialize. Keys and values
// are whitespace-tokenized strings.
func Deserialize(content string) (Kwargs, error) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty kwargs blob")
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("invalid kwargs count %q: %v", fields[0], err)
	}
	if len(fields) != 1+2*n {
		return nil, fmt.Errorf("kwargs blob has %d tokens, want %d for %d pairs",
			len(fields)-1, 2*n, n)
	}

	kw := make(Kwargs, n)
	for i := 0; i < n; i++ {
		kw[fields[1+2*i]] = fields[2+2*i]
	}
	return kw, nil
}

// --------------------------------------------------------------------------
// Hyper-Parameter Lookup
// --------------------------------------------------------------------------

// FindHyperParam looks up and parses a typed hyper-parameter. A missing
// non-optional parameter or a value failing the validation predicate is a
// configuration error and fatal. A nil check accepts every value.
func FindHyperParam[T bool | int | uint64 | float64 | string](kw Kwargs, name string, optional bool, check func(T) bool) T {
	var value T

	raw, ok := kw[name]
	if !ok {
		if !optional {
			plog.Panicf("hyper-parameter %q is not found", name)
		}
		return value
	}

	var err error
	switch p := any(&value).(type) {
	case *bool:
		*p, err = strconv.ParseBool(raw)
	case *int:
		*p, err = strconv.Atoi(raw)
	case *uint64:
		*p, err = strconv.ParseUint(raw, 10, 64)
	case *float64:
		*p, err = strconv.ParseFloat(raw, 64)
	case *string:
		*p = raw
	}
	if err != nil {
		plog.Panicf("hyper-parameter %q has malformed value %q: %v", name, raw, err)
	}
	if check != nil && !check(value) {
		plog.Panicf("hyper-parameter %q should not be %v", name, value)
	}

	plog.Infof("register hyper-parameter %q=%v", name, value)
	return value
}
