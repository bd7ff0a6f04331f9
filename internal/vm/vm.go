// Package vm executes the bytecode the compiler emits: a stack
// machine with a call-frame stack, a single global scope, and a
// closed set of built-in functions.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"whispem/internal/chunk"
	"whispem/internal/langerr"
	"whispem/internal/value"
)

// frame is one call-frame activation record. The outermost frame (the
// <main> chunk) has locals == nil and reads/writes globals directly;
// every other frame owns its own locals map, seeded at call time with
// a snapshot of globals.
type frame struct {
	chunk  *chunk.Chunk
	ip     int
	locals map[string]value.Value
}

// VM owns all the mutable state of one program run: the shared value
// stack, the call-frame stack, globals, and the function table. A VM
// is reused across REPL entries, so globals and the function table
// persist between calls to Run.
type VM struct {
	stack     []value.Value
	frames    []*frame
	globals   map[string]value.Value
	functions map[string]*chunk.Chunk

	out io.Writer
	in  *bufio.Reader
	log *logrus.Logger

	runID uuid.UUID
}

func New(out io.Writer, in io.Reader, log *logrus.Logger) *VM {
	if log == nil {
		log = discardLogger()
	}
	return &VM{
		globals:   make(map[string]value.Value),
		functions: make(map[string]*chunk.Chunk),
		out:       out,
		in:        bufio.NewReader(in),
		log:       log,
		runID:     uuid.New(),
	}
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(logrusDiscard{})
	return l
}

type logrusDiscard struct{}

func (logrusDiscard) Write(p []byte) (int, error) { return len(p), nil }

// RegisterFunctions merges fns into the VM's function table, so that
// function declarations accumulate across REPL entries.
func (vm *VM) RegisterFunctions(fns map[string]*chunk.Chunk) {
	for name, fc := range fns {
		vm.functions[name] = fc
	}
}

// Globals exposes the VM's global bindings for CLI/REPL introspection.
func (vm *VM) Globals() map[string]value.Value { return vm.globals }

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop(line int) (value.Value, error) {
	if len(vm.stack) == 0 {
		return value.Value{}, vm.runtimeError(langerr.StackUnderflow, line, "value stack underflow")
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) peek(line int) (value.Value, error) {
	if len(vm.stack) == 0 {
		return value.Value{}, vm.runtimeError(langerr.StackUnderflow, line, "value stack underflow")
	}
	return vm.stack[len(vm.stack)-1], nil
}

func (vm *VM) runtimeError(kind langerr.Kind, line int, format string, args ...interface{}) *langerr.Error {
	err := langerr.New(langerr.Runtime, kind, langerr.Span{Line: line}, format, args...)
	vm.log.WithFields(logrus.Fields{
		"run_id": vm.runID.String(),
		"kind":   kind.String(),
		"line":   line,
	}).Debug(err.Message)
	return err
}

// Run executes mainChunk as the VM's outermost frame. Globals and the
// function table carry over from any previous call, which is what
// lets a REPL accumulate state across entries.
func (vm *VM) Run(mainChunk *chunk.Chunk) error {
	vm.frames = append(vm.frames, &frame{chunk: mainChunk})
	defer func() { vm.frames = nil }()
	return vm.dispatch()
}

func (vm *VM) currentFrame() *frame { return vm.frames[len(vm.frames)-1] }

func (vm *VM) dispatch() error {
	for {
		f := vm.currentFrame()
		if f.ip >= len(f.chunk.Code) {
			return vm.runtimeError(langerr.InvalidOpcode, 0, "instruction pointer ran off the end of chunk %q", f.chunk.Name)
		}
		line := f.chunk.Lines[f.ip]
		op := chunk.OpCode(f.chunk.Code[f.ip])
		f.ip++

		switch op {
		case chunk.OP_PUSH_CONST:
			idx := f.chunk.Code[f.ip]
			f.ip++
			vm.push(f.chunk.Constants[idx])

		case chunk.OP_PUSH_TRUE:
			vm.push(value.NewBool(true))
		case chunk.OP_PUSH_FALSE:
			vm.push(value.NewBool(false))
		case chunk.OP_PUSH_NONE:
			vm.push(value.NewNone())
		case chunk.OP_POP:
			if _, err := vm.pop(line); err != nil {
				return err
			}

		case chunk.OP_LOAD:
			idx := f.chunk.Code[f.ip]
			f.ip++
			name := f.chunk.Constants[idx].S
			v, ok := vm.lookup(f, name)
			if !ok {
				return vm.runtimeError(langerr.UndefinedVariable, line, "undefined variable %q", name)
			}
			vm.push(v)

		case chunk.OP_STORE:
			idx := f.chunk.Code[f.ip]
			f.ip++
			name := f.chunk.Constants[idx].S
			v, err := vm.pop(line)
			if err != nil {
				return err
			}
			vm.store(f, name, v)

		case chunk.OP_ADD:
			if err := vm.binaryAdd(line); err != nil {
				return err
			}
		case chunk.OP_SUB, chunk.OP_MUL, chunk.OP_DIV, chunk.OP_MOD:
			if err := vm.binaryArith(op, line); err != nil {
				return err
			}
		case chunk.OP_NEG:
			v, err := vm.pop(line)
			if err != nil {
				return err
			}
			if v.Type != value.Number {
				return vm.runtimeError(langerr.TypeError, line, "'-' requires a number, got %s", v.TypeName())
			}
			vm.push(value.NewNumber(-v.Num))

		case chunk.OP_EQ, chunk.OP_NEQ:
			b, err := vm.pop(line)
			if err != nil {
				return err
			}
			a, err := vm.pop(line)
			if err != nil {
				return err
			}
			eq := value.Equal(a, b)
			if op == chunk.OP_NEQ {
				eq = !eq
			}
			vm.push(value.NewBool(eq))

		case chunk.OP_LT, chunk.OP_LTE, chunk.OP_GT, chunk.OP_GTE:
			if err := vm.comparison(op, line); err != nil {
				return err
			}

		case chunk.OP_NOT:
			v, err := vm.pop(line)
			if err != nil {
				return err
			}
			vm.push(value.NewBool(!v.Truthy()))

		case chunk.OP_JUMP:
			target := f.chunk.ReadU16(f.ip)
			f.ip = int(target)

		case chunk.OP_JUMP_IF_FALSE:
			target := f.chunk.ReadU16(f.ip)
			f.ip += 2
			v, err := vm.pop(line)
			if err != nil {
				return err
			}
			if !v.Truthy() {
				f.ip = int(target)
			}

		case chunk.OP_JUMP_IF_TRUE:
			target := f.chunk.ReadU16(f.ip)
			f.ip += 2
			v, err := vm.pop(line)
			if err != nil {
				return err
			}
			if v.Truthy() {
				f.ip = int(target)
			}

		case chunk.OP_PEEK_JUMP_IF_FALSE:
			target := f.chunk.ReadU16(f.ip)
			f.ip += 2
			v, err := vm.peek(line)
			if err != nil {
				return err
			}
			if !v.Truthy() {
				f.ip = int(target)
			}

		case chunk.OP_PEEK_JUMP_IF_TRUE:
			target := f.chunk.ReadU16(f.ip)
			f.ip += 2
			v, err := vm.peek(line)
			if err != nil {
				return err
			}
			if v.Truthy() {
				f.ip = int(target)
			}

		case chunk.OP_CALL:
			nameIdx := f.chunk.Code[f.ip]
			argc := int(f.chunk.Code[f.ip+1])
			f.ip += 2
			name := f.chunk.Constants[nameIdx].S
			if err := vm.call(name, argc, line); err != nil {
				return err
			}

		case chunk.OP_RETURN:
			v, err := vm.pop(line)
			if err != nil {
				return err
			}
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.push(v)

		case chunk.OP_RETURN_NONE:
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.push(value.NewNone())

		case chunk.OP_MAKE_ARRAY:
			n := int(f.chunk.Code[f.ip])
			f.ip++
			arr := make([]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				v, err := vm.pop(line)
				if err != nil {
					return err
				}
				arr[i] = v
			}
			vm.push(value.NewArray(arr))

		case chunk.OP_MAKE_DICT:
			n := int(f.chunk.Code[f.ip])
			f.ip++
			type dictPair struct {
				key value.Value
				val value.Value
			}
			pairs := make([]dictPair, n)
			for i := n - 1; i >= 0; i-- {
				val, err := vm.pop(line)
				if err != nil {
					return err
				}
				key, err := vm.pop(line)
				if err != nil {
					return err
				}
				pairs[i] = dictPair{key: key, val: val}
			}
			d := value.NewDict()
			for _, p := range pairs {
				keyStr, ok := value.DictKey(p.key)
				if !ok {
					return vm.runtimeError(langerr.TypeError, line, "dict key must be a string or number, got %s", p.key.TypeName())
				}
				d.Set(keyStr, p.val)
			}
			vm.push(value.NewDictValue(d))

		case chunk.OP_GET_INDEX:
			if err := vm.getIndex(line); err != nil {
				return err
			}

		case chunk.OP_SET_INDEX:
			if err := vm.setIndex(line); err != nil {
				return err
			}

		case chunk.OP_PRINT:
			v, err := vm.pop(line)
			if err != nil {
				return err
			}
			fmt.Fprintln(vm.out, v.Display())

		case chunk.OP_HALT:
			return nil

		default:
			return vm.runtimeError(langerr.InvalidOpcode, line, "unknown opcode %d in chunk %q", byte(op), f.chunk.Name)
		}
	}
}

func (vm *VM) lookup(f *frame, name string) (value.Value, bool) {
	if f.locals != nil {
		if v, ok := f.locals[name]; ok {
			return v, true
		}
	}
	v, ok := vm.globals[name]
	return v, ok
}

func (vm *VM) store(f *frame, name string, v value.Value) {
	if len(vm.frames) > 1 {
		f.locals[name] = v
		return
	}
	vm.globals[name] = v
}

func (vm *VM) binaryAdd(line int) error {
	b, err := vm.pop(line)
	if err != nil {
		return err
	}
	a, err := vm.pop(line)
	if err != nil {
		return err
	}
	switch {
	case a.Type == value.Number && b.Type == value.Number:
		vm.push(value.NewNumber(a.Num + b.Num))
	case a.Type == value.Str || b.Type == value.Str:
		vm.push(value.NewString(a.Display() + b.Display()))
	default:
		return vm.runtimeError(langerr.TypeError, line, "'+' is not defined for %s and %s", a.TypeName(), b.TypeName())
	}
	return nil
}

func (vm *VM) binaryArith(op chunk.OpCode, line int) error {
	b, err := vm.pop(line)
	if err != nil {
		return err
	}
	a, err := vm.pop(line)
	if err != nil {
		return err
	}
	if a.Type != value.Number || b.Type != value.Number {
		return vm.runtimeError(langerr.TypeError, line, "arithmetic requires numbers, got %s and %s", a.TypeName(), b.TypeName())
	}
	switch op {
	case chunk.OP_SUB:
		vm.push(value.NewNumber(a.Num - b.Num))
	case chunk.OP_MUL:
		vm.push(value.NewNumber(a.Num * b.Num))
	case chunk.OP_DIV:
		if b.Num == 0 {
			return vm.runtimeError(langerr.DivisionByZero, line, "division by zero")
		}
		vm.push(value.NewNumber(a.Num / b.Num))
	case chunk.OP_MOD:
		if b.Num == 0 {
			return vm.runtimeError(langerr.DivisionByZero, line, "modulo by zero")
		}
		vm.push(value.NewNumber(mod(a.Num, b.Num)))
	}
	return nil
}

func mod(a, b float64) float64 {
	m := a - b*float64(int64(a/b))
	return m
}

func (vm *VM) comparison(op chunk.OpCode, line int) error {
	b, err := vm.pop(line)
	if err != nil {
		return err
	}
	a, err := vm.pop(line)
	if err != nil {
		return err
	}
	var less, equal bool
	switch {
	case a.Type == value.Number && b.Type == value.Number:
		less = a.Num < b.Num
		equal = a.Num == b.Num
	case a.Type == value.Str && b.Type == value.Str:
		less = a.S < b.S
		equal = a.S == b.S
	default:
		return vm.runtimeError(langerr.TypeError, line, "comparison requires two numbers or two strings, got %s and %s", a.TypeName(), b.TypeName())
	}
	var result bool
	switch op {
	case chunk.OP_LT:
		result = less
	case chunk.OP_LTE:
		result = less || equal
	case chunk.OP_GT:
		result = !less && !equal
	case chunk.OP_GTE:
		result = !less
	}
	vm.push(value.NewBool(result))
	return nil
}

func (vm *VM) getIndex(line int) error {
	idx, err := vm.pop(line)
	if err != nil {
		return err
	}
	obj, err := vm.pop(line)
	if err != nil {
		return err
	}
	switch obj.Type {
	case value.Array:
		i, ierr := arrayIndex(idx)
		if ierr != nil {
			return vm.runtimeError(langerr.InvalidIndex, line, "array index must be a non-negative integer, got %s", idx.Display())
		}
		if i >= len(obj.Arr) {
			return vm.runtimeError(langerr.IndexOutOfBounds, line, "index %d out of bounds for array of length %d", i, len(obj.Arr))
		}
		vm.push(obj.Arr[i])
	case value.Dict:
		key, ok := value.DictKey(idx)
		if !ok {
			return vm.runtimeError(langerr.TypeError, line, "dict key must be a string or number, got %s", idx.TypeName())
		}
		v, found := obj.D.Get(key)
		if !found {
			return vm.runtimeError(langerr.UndefinedVariable, line, "dict key %q not found", key)
		}
		vm.push(v)
	default:
		return vm.runtimeError(langerr.TypeError, line, "%s is not indexable", obj.TypeName())
	}
	return nil
}

func (vm *VM) setIndex(line int) error {
	newVal, err := vm.pop(line)
	if err != nil {
		return err
	}
	idx, err := vm.pop(line)
	if err != nil {
		return err
	}
	obj, err := vm.pop(line)
	if err != nil {
		return err
	}
	switch obj.Type {
	case value.Array:
		i, ierr := arrayIndex(idx)
		if ierr != nil {
			return vm.runtimeError(langerr.InvalidIndex, line, "array index must be a non-negative integer, got %s", idx.Display())
		}
		if i >= len(obj.Arr) {
			return vm.runtimeError(langerr.IndexOutOfBounds, line, "index %d out of bounds for array of length %d", i, len(obj.Arr))
		}
		obj.Arr[i] = newVal
	case value.Dict:
		key, ok := value.DictKey(idx)
		if !ok {
			return vm.runtimeError(langerr.TypeError, line, "dict key must be a string or number, got %s", idx.TypeName())
		}
		obj.D.Set(key, newVal)
	default:
		return vm.runtimeError(langerr.TypeError, line, "%s does not support index assignment", obj.TypeName())
	}
	vm.push(obj)
	return nil
}

func arrayIndex(v value.Value) (int, error) {
	if v.Type != value.Number || v.Num < 0 || v.Num != float64(int64(v.Num)) {
		return 0, fmt.Errorf("not a valid array index")
	}
	return int(v.Num), nil
}

func (vm *VM) call(name string, argc int, line int) error {
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := vm.pop(line)
		if err != nil {
			return err
		}
		args[i] = v
	}

	if spec, ok := builtinTable[name]; ok {
		vm.log.WithFields(logrus.Fields{"run_id": vm.runID.String(), "builtin": name}).Debug("call")
		result, err := spec.call(vm, args, line)
		if err != nil {
			return err
		}
		vm.push(result)
		return nil
	}

	fc, ok := vm.functions[name]
	if !ok {
		return vm.runtimeError(langerr.UndefinedFunction, line, "undefined function %q", name)
	}
	vm.log.WithFields(logrus.Fields{"run_id": vm.runID.String(), "function": name}).Debug("call")

	locals := make(map[string]value.Value, len(vm.globals))
	for k, v := range vm.globals {
		locals[k] = v
	}
	vm.frames = append(vm.frames, &frame{chunk: fc, locals: locals})
	for _, a := range args {
		vm.push(a)
	}
	return nil
}

var (
	osReadFile  = os.ReadFile
	osWriteFile = os.WriteFile
)
