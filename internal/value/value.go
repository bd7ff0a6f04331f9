// Package value defines the dynamically typed value universe the VM
// operates on: numbers, booleans, strings, arrays, dictionaries, and
// none.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dolthub/swiss"
)

type Type int

const (
	Number Type = iota
	Bool
	Str
	Array
	Dict
	None
)

func (t Type) String() string {
	switch t {
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Str:
		return "string"
	case Array:
		return "array"
	case Dict:
		return "dict"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// Value is the tagged union every opcode and built-in operates on.
// Only the field matching Type is meaningful.
type Value struct {
	Type Type
	Num  float64
	B    bool
	S    string
	Arr  []Value
	D    *DictValue
}

// DictValue wraps a swiss.Map so that dict storage is backed by a
// real open-addressing hash map rather than a bare Go map. Storage
// order is unspecified by design; every observable operation
// (keys/values/print) re-sorts by key at the point of observation.
type DictValue struct {
	m *swiss.Map[string, Value]
}

func NewDict() *DictValue {
	return &DictValue{m: swiss.NewMap[string, Value](8)}
}

func (d *DictValue) Get(key string) (Value, bool) {
	return d.m.Get(key)
}

func (d *DictValue) Set(key string, v Value) {
	d.m.Put(key, v)
}

func (d *DictValue) Has(key string) bool {
	return d.m.Has(key)
}

func (d *DictValue) Len() int {
	return d.m.Count()
}

// SortedKeys returns the dict's keys in lexicographic order — the one
// place dict iteration order is observable.
func (d *DictValue) SortedKeys() []string {
	keys := make([]string, 0, d.m.Count())
	d.m.Iter(func(k string, _ Value) bool {
		keys = append(keys, k)
		return false
	})
	sort.Strings(keys)
	return keys
}

func (d *DictValue) Clone() *DictValue {
	clone := NewDict()
	d.m.Iter(func(k string, v Value) bool {
		clone.Set(k, v)
		return false
	})
	return clone
}

func NewNumber(n float64) Value  { return Value{Type: Number, Num: n} }
func NewBool(b bool) Value       { return Value{Type: Bool, B: b} }
func NewString(s string) Value   { return Value{Type: Str, S: s} }
func NewArray(a []Value) Value   { return Value{Type: Array, Arr: a} }
func NewDictValue(d *DictValue) Value { return Value{Type: Dict, D: d} }
func NewNone() Value             { return Value{Type: None} }

func (v Value) TypeName() string { return v.Type.String() }

// Truthy implements the single-predicate truthiness rule shared by
// NOT, JUMP_IF_FALSE, and the peek-jump family.
func (v Value) Truthy() bool {
	switch v.Type {
	case Bool:
		return v.B
	case Number:
		return v.Num != 0
	case Str:
		return v.S != ""
	case Array:
		return len(v.Arr) != 0
	case Dict:
		return v.D.Len() != 0
	case None:
		return false
	default:
		return false
	}
}

// formatNumber renders n as an integer when it has no fractional part
// and is small enough to round-trip exactly, else with default float
// formatting.
func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Display renders v the way PRINT and string concatenation do.
func (v Value) Display() string {
	switch v.Type {
	case Number:
		return formatNumber(v.Num)
	case Bool:
		return strconv.FormatBool(v.B)
	case Str:
		return v.S
	case None:
		return ""
	case Array:
		parts := make([]string, len(v.Arr))
		for i, e := range v.Arr {
			parts[i] = e.Display()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Dict:
		keys := v.D.SortedKeys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			val, _ := v.D.Get(k)
			parts[i] = fmt.Sprintf("%s: %s", k, val.Display())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return ""
	}
}

// Equal implements structural, non-coercing equality: cross-type
// comparisons are always false.
func Equal(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case Number:
		return a.Num == b.Num
	case Bool:
		return a.B == b.B
	case Str:
		return a.S == b.S
	case None:
		return true
	case Array:
		if len(a.Arr) != len(b.Arr) {
			return false
		}
		for i := range a.Arr {
			if !Equal(a.Arr[i], b.Arr[i]) {
				return false
			}
		}
		return true
	case Dict:
		if a.D.Len() != b.D.Len() {
			return false
		}
		equal := true
		for _, k := range a.D.SortedKeys() {
			av, _ := a.D.Get(k)
			bv, ok := b.D.Get(k)
			if !ok || !Equal(av, bv) {
				equal = false
				break
			}
		}
		return equal
	default:
		return false
	}
}

// DictKey converts v to a dict key string per the language's
// coercion rule: strings pass through, numbers render via the same
// integer-or-float rule as Display, everything else is a TypeError
// the caller must raise.
func DictKey(v Value) (string, bool) {
	switch v.Type {
	case Str:
		return v.S, true
	case Number:
		return formatNumber(v.Num), true
	default:
		return "", false
	}
}
