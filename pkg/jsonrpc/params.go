package jsonrpc

import (
	"fmt"
	"maps"
)

// DefaultSentinelKey is the reserved params member that carries positional
// arguments inside a named-parameter object.
const DefaultSentinelKey = "__args"

// Params is the split form of a request's params member.
type Params struct {
	// Positional holds positional arguments in order.
	Positional []any

	// Named holds named arguments. It is never nil.
	Named map[string]any
}

// Len returns the total number of supplied arguments.
func (p Params) Len() int {
	return len(p.Positional) + len(p.Named)
}

// SplitParams splits a params value into positional and named arguments.
//
// A sequence yields positional arguments only. A mapping yields named
// arguments, except for the sentinel member which, when present, supplies
// the positional arguments. The input value is never modified.
func SplitParams(params any, sentinel string) (Params, error) {
	switch p := params.(type) {
	case nil:
		return Params{Named: map[string]any{}}, nil
	case []any:
		return Params{Positional: p, Named: map[string]any{}}, nil
	case map[string]any:
		named := maps.Clone(p)
		if named == nil {
			named = map[string]any{}
		}
		raw, ok := named[sentinel]
		if !ok {
			return Params{Named: named}, nil
		}
		delete(named, sentinel)

		switch args := raw.(type) {
		case []any:
			return Params{Positional: args, Named: named}, nil
		case nil:
			return Params{Named: named}, nil
		default:
			return Params{}, fmt.Errorf("%s must be an array, got %T", sentinel, raw)
		}
	default:
		return Params{}, fmt.Errorf("params must be an array or an object, got %T", params)
	}
}

// MergeParams is the inverse of SplitParams. It returns nil when there are no
// arguments, a sequence when there are only positional arguments, and a
// mapping (with the sentinel member for positional arguments) otherwise.
func MergeParams(p Params, sentinel string) any {
	switch {
	case len(p.Named) == 0 && len(p.Positional) == 0:
		return nil
	case len(p.Named) == 0:
		return p.Positional
	}

	merged := maps.Clone(p.Named)
	if len(p.Positional) > 0 {
		merged[sentinel] = p.Positional
	}
	return merged
}
