package vm

import (
	"strings"

	"golang.org/x/exp/slices"

	"whispem/internal/langerr"
	"whispem/internal/value"
)

type builtin struct {
	minArity int
	maxArity int
	call     func(vm *VM, args []value.Value, line int) (value.Value, error)
}

var builtinTable = map[string]builtin{
	"length":    {1, 1, builtinLength},
	"push":      {2, 2, builtinPush},
	"pop":       {1, 1, builtinPop},
	"reverse":   {1, 1, builtinReverse},
	"slice":     {3, 3, builtinSlice},
	"range":     {2, 2, builtinRange},
	"input":     {0, 1, builtinInput},
	"read_file": {1, 1, builtinReadFile},
	"write_file": {2, 2, builtinWriteFile},
	"keys":      {1, 1, builtinKeys},
	"values":    {1, 1, builtinValues},
	"has_key":   {2, 2, builtinHasKey},
}

func init() {
	for name, spec := range builtinTable {
		wrapped := spec
		builtinTable[name] = builtin{
			minArity: wrapped.minArity,
			maxArity: wrapped.maxArity,
			call: func(vm *VM, args []value.Value, line int) (value.Value, error) {
				if len(args) < wrapped.minArity || len(args) > wrapped.maxArity {
					return value.Value{}, vm.runtimeError(langerr.ArgumentCount, line,
						"%s expects %s argument(s), got %d", name, arityDisplay(wrapped.minArity, wrapped.maxArity), len(args))
				}
				return wrapped.call(vm, args, line)
			},
		}
	}
}

func arityDisplay(min, max int) string {
	if min == max {
		return itoaSimple(min)
	}
	return itoaSimple(min) + " or " + itoaSimple(max)
}

func itoaSimple(n int) string {
	digits := "0123456789"
	if n < 10 {
		return string(digits[n])
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{digits[n%10]}, buf...)
		n /= 10
	}
	return string(buf)
}

func builtinLength(vm *VM, args []value.Value, line int) (value.Value, error) {
	v := args[0]
	switch v.Type {
	case value.Array:
		return value.NewNumber(float64(len(v.Arr))), nil
	case value.Str:
		return value.NewNumber(float64(len(v.S))), nil
	case value.Dict:
		return value.NewNumber(float64(v.D.Len())), nil
	default:
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "length expects an array, string, or dict, got %s", v.TypeName())
	}
}

func builtinPush(vm *VM, args []value.Value, line int) (value.Value, error) {
	arr := args[0]
	if arr.Type != value.Array {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "push expects an array, got %s", arr.TypeName())
	}
	out := make([]value.Value, len(arr.Arr)+1)
	copy(out, arr.Arr)
	out[len(arr.Arr)] = args[1]
	return value.NewArray(out), nil
}

func builtinPop(vm *VM, args []value.Value, line int) (value.Value, error) {
	arr := args[0]
	if arr.Type != value.Array {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "pop expects an array, got %s", arr.TypeName())
	}
	if len(arr.Arr) == 0 {
		return value.Value{}, vm.runtimeError(langerr.EmptyArray, line, "pop called on an empty array")
	}
	return arr.Arr[len(arr.Arr)-1], nil
}

func builtinReverse(vm *VM, args []value.Value, line int) (value.Value, error) {
	arr := args[0]
	if arr.Type != value.Array {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "reverse expects an array, got %s", arr.TypeName())
	}
	out := make([]value.Value, len(arr.Arr))
	copy(out, arr.Arr)
	slices.Reverse(out)
	return value.NewArray(out), nil
}

func builtinSlice(vm *VM, args []value.Value, line int) (value.Value, error) {
	arr, startV, endV := args[0], args[1], args[2]
	if arr.Type != value.Array {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "slice expects an array, got %s", arr.TypeName())
	}
	if startV.Type != value.Number || endV.Type != value.Number {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "slice bounds must be numbers")
	}
	start, end := int(startV.Num), int(endV.Num)
	if start > end {
		return value.Value{}, vm.runtimeError(langerr.InvalidSlice, line, "slice start %d is greater than end %d", start, end)
	}
	if end > len(arr.Arr) {
		return value.Value{}, vm.runtimeError(langerr.SliceOutOfBounds, line, "slice end %d exceeds array length %d", end, len(arr.Arr))
	}
	if start < 0 {
		return value.Value{}, vm.runtimeError(langerr.SliceOutOfBounds, line, "slice start %d is negative", start)
	}
	out := make([]value.Value, end-start)
	copy(out, arr.Arr[start:end])
	return value.NewArray(out), nil
}

func builtinRange(vm *VM, args []value.Value, line int) (value.Value, error) {
	startV, endV := args[0], args[1]
	if startV.Type != value.Number || endV.Type != value.Number {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "range expects two numbers")
	}
	start, end := int(startV.Num), int(endV.Num)
	if end < start {
		end = start
	}
	out := make([]value.Value, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, value.NewNumber(float64(i)))
	}
	return value.NewArray(out), nil
}

func builtinInput(vm *VM, args []value.Value, line int) (value.Value, error) {
	if len(args) == 1 {
		if args[0].Type != value.Str {
			return value.Value{}, vm.runtimeError(langerr.TypeError, line, "input prompt must be a string, got %s", args[0].TypeName())
		}
		vm.out.Write([]byte(args[0].S))
		if flusher, ok := vm.out.(interface{ Flush() error }); ok {
			flusher.Flush()
		}
	}
	line2, err := vm.in.ReadString('\n')
	if err != nil && line2 == "" {
		return value.NewString(""), nil
	}
	line2 = strings.TrimRight(line2, "\r\n")
	return value.NewString(line2), nil
}

func builtinReadFile(vm *VM, args []value.Value, line int) (value.Value, error) {
	path := args[0]
	if path.Type != value.Str {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "read_file expects a string path, got %s", path.TypeName())
	}
	data, err := osReadFile(path.S)
	if err != nil {
		return value.Value{}, vm.runtimeError(langerr.FileRead, line, "read_file %q: %s", path.S, err)
	}
	return value.NewString(string(data)), nil
}

func builtinWriteFile(vm *VM, args []value.Value, line int) (value.Value, error) {
	path := args[0]
	if path.Type != value.Str {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "write_file expects a string path, got %s", path.TypeName())
	}
	content := args[1].Display()
	if err := osWriteFile(path.S, []byte(content), 0o644); err != nil {
		return value.Value{}, vm.runtimeError(langerr.FileWrite, line, "write_file %q: %s", path.S, err)
	}
	return value.NewNone(), nil
}

func builtinKeys(vm *VM, args []value.Value, line int) (value.Value, error) {
	d := args[0]
	if d.Type != value.Dict {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "keys expects a dict, got %s", d.TypeName())
	}
	sorted := d.D.SortedKeys()
	out := make([]value.Value, len(sorted))
	for i, k := range sorted {
		out[i] = value.NewString(k)
	}
	return value.NewArray(out), nil
}

func builtinValues(vm *VM, args []value.Value, line int) (value.Value, error) {
	d := args[0]
	if d.Type != value.Dict {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "values expects a dict, got %s", d.TypeName())
	}
	sorted := d.D.SortedKeys()
	out := make([]value.Value, len(sorted))
	for i, k := range sorted {
		v, _ := d.D.Get(k)
		out[i] = v
	}
	return value.NewArray(out), nil
}

func builtinHasKey(vm *VM, args []value.Value, line int) (value.Value, error) {
	d, keyV := args[0], args[1]
	if d.Type != value.Dict {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "has_key expects a dict, got %s", d.TypeName())
	}
	key, ok := value.DictKey(keyV)
	if !ok {
		return value.Value{}, vm.runtimeError(langerr.TypeError, line, "dict key must be a string or number, got %s", keyV.TypeName())
	}
	return value.NewBool(d.D.Has(key)), nil
}
