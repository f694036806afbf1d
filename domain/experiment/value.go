package experiment

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ValueKind tags the concrete type carried by a Value
type ValueKind int

const (
	KindFloat ValueKind = iota
	KindBool
	KindString
)

// Value is a parameter value: a float, a bool or a free-form string.
// Ordering across kinds is float < bool < string.
type Value struct {
	Kind ValueKind
	Num  float64
	Bool bool
	Str  string
}

// Float creates a numeric Value
func Float(v float64) Value { return Value{Kind: KindFloat, Num: v} }

// Bool creates a boolean Value
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// String creates a string Value
func String(v string) Value { return Value{Kind: KindString, Str: v} }

// Float64 returns the numeric form of the value. Booleans map to 0/1 and
// strings to NaN.
func (v Value) Float64() float64 {
	switch v.Kind {
	case KindFloat:
		return v.Num
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	default:
		return math.NaN()
	}
}

// Equal compares kind and payload. NaN floats are equal to each other so that
// a NaN coordinate can still be selected.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindFloat:
		return v.Num == o.Num || (math.IsNaN(v.Num) && math.IsNaN(o.Num))
	case KindBool:
		return v.Bool == o.Bool
	default:
		return v.Str == o.Str
	}
}

// Less implements the cross-kind total order used for axis sorting
func (v Value) Less(o Value) bool {
	if v.Kind != o.Kind {
		return v.Kind < o.Kind
	}
	switch v.Kind {
	case KindFloat:
		return v.Num < o.Num
	case KindBool:
		return !v.Bool && o.Bool
	default:
		return v.Str < o.Str
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindFloat:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// Interface returns the value as float64, bool or string
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindFloat:
		return v.Num
	case KindBool:
		return v.Bool
	default:
		return v.Str
	}
}

// GoString keeps kind information visible in test failure output
func (v Value) GoString() string {
	return fmt.Sprintf("experiment.Value{%d:%s}", v.Kind, v.String())
}

// SortValues sorts in place and removes duplicates
func SortValues(vals []Value) []Value {
	sort.Slice(vals, func(i, j int) bool { return vals[i].Less(vals[j]) })
	out := vals[:0]
	for i, v := range vals {
		if i > 0 && v.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, v)
	}
	return out
}
