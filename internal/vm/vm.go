// Package vm implements the stack-based bytecode interpreter: a
// fetch-decode-execute loop over a Chunk, an operand stack, a global
// environment, and the call/return protocol for script and native
// functions.
package vm

import (
	"errors"
	"fmt"

	"github.com/estevaofon/noxy-vm/internal/chunk"
	"github.com/estevaofon/noxy-vm/internal/value"
)

// maxFrames bounds call depth; exceeding it is a runtime error rather
// than a host stack overflow.
const maxFrames = 64

// RuntimeError is a failure raised while executing already-compiled
// bytecode, reported as "[line L] Error in script: MSG".
type RuntimeError struct {
	Line    int
	Message string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("[line %d] Error in script: %s", e.Line, e.Message)
}

// CallFrame is one activation record: which function is running, where
// its instruction pointer is, and where its locals begin on the shared
// operand stack (slot 0 is the function value itself).
type CallFrame struct {
	Function  *value.ObjFunction
	IP        int
	StackBase int
}

// VM owns the operand stack, the global environment, and the call
// stack. Globals persist across successive Interpret calls so a REPL
// can build up state line by line; the operand stack and call frames
// are reset at the start of each Interpret.
type VM struct {
	stack   []value.Value
	globals map[string]value.Value
	frames  []CallFrame
}

// New returns a VM with an empty global environment.
func New() *VM {
	return &VM{globals: make(map[string]value.Value)}
}

// DefineNative installs a host function under name, callable from
// scripts like any other global.
func (vm *VM) DefineNative(name string, fn value.NativeFn) {
	vm.globals[name] = value.NewNative(name, fn)
}

// Global looks up a global by name, for host code inspecting state
// between REPL lines.
func (vm *VM) Global(name string) (value.Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// Interpret runs fn as a fresh top-level script: the stack and call
// frames are reset, but globals (and any natives registered via
// DefineNative) survive from any previous call.
func (vm *VM) Interpret(fn *value.ObjFunction) error {
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	vm.push(value.NewFunction(fn))
	vm.frames = append(vm.frames, CallFrame{Function: fn, StackBase: 0})
	return vm.run()
}

func (vm *VM) run() error {
	for {
		frame := &vm.frames[len(vm.frames)-1]
		ch := frame.Function.Chunk.(*chunk.Chunk)
		opStart := frame.IP
		op := chunk.OpCode(ch.Code[frame.IP])
		frame.IP++

		var stepErr error

		switch op {
		case chunk.OpConstant:
			idx := ch.Code[frame.IP]
			frame.IP++
			vm.push(ch.Constants[idx])

		case chunk.OpLongConstant:
			idx := uint32(ch.Code[frame.IP]) | uint32(ch.Code[frame.IP+1])<<8 | uint32(ch.Code[frame.IP+2])<<16
			frame.IP += 3
			vm.push(ch.Constants[idx])

		case chunk.OpNil:
			vm.push(value.NewNil())
		case chunk.OpTrue:
			vm.push(value.NewBoolean(true))
		case chunk.OpFalse:
			vm.push(value.NewBoolean(false))
		case chunk.OpPop:
			vm.pop()

		case chunk.OpGetLocal:
			slot := int(ch.Code[frame.IP])
			frame.IP++
			vm.push(vm.stack[frame.StackBase+slot])
		case chunk.OpSetLocal:
			slot := int(ch.Code[frame.IP])
			frame.IP++
			vm.stack[frame.StackBase+slot] = vm.peek(0)

		case chunk.OpDefineGlobal:
			name := vm.constantName(ch, frame)
			vm.globals[name] = vm.pop()
		case chunk.OpGetGlobal:
			name := vm.constantName(ch, frame)
			v, ok := vm.globals[name]
			if !ok {
				stepErr = fmt.Errorf("Undefined variable '%s'.", name)
			} else {
				vm.push(v)
			}
		case chunk.OpSetGlobal:
			name := vm.constantName(ch, frame)
			if _, ok := vm.globals[name]; !ok {
				stepErr = fmt.Errorf("Undefined variable '%s'.", name)
			} else {
				vm.globals[name] = vm.peek(0)
			}

		case chunk.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBoolean(a.Equals(b)))
		case chunk.OpGreater:
			stepErr = vm.numericCompare(func(a, b float64) bool { return a > b })
		case chunk.OpLess:
			stepErr = vm.numericCompare(func(a, b float64) bool { return a < b })

		case chunk.OpAdd:
			stepErr = vm.add()
		case chunk.OpSubtract:
			stepErr = vm.numericBinary(func(a, b float64) float64 { return a - b })
		case chunk.OpMultiply:
			stepErr = vm.numericBinary(func(a, b float64) float64 { return a * b })
		case chunk.OpDivide:
			stepErr = vm.numericBinary(func(a, b float64) float64 { return a / b })
		case chunk.OpNegate:
			stepErr = vm.negate()
		case chunk.OpNot:
			vm.push(value.NewBoolean(vm.pop().IsFalsey()))

		case chunk.OpPrint:
			fmt.Println(vm.pop().String())

		case chunk.OpJump:
			offset := vm.readShort(ch, frame)
			frame.IP += int(offset)
		case chunk.OpJumpIfFalse:
			offset := vm.readShort(ch, frame)
			if vm.peek(0).IsFalsey() {
				frame.IP += int(offset)
			}
		case chunk.OpLoop:
			offset := vm.readShort(ch, frame)
			frame.IP -= int(offset)

		case chunk.OpCall:
			argc := int(ch.Code[frame.IP])
			frame.IP++
			stepErr = vm.call(argc)

		case chunk.OpReturn:
			result := vm.pop()
			base := frame.StackBase
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.stack = vm.stack[:base]
			if len(vm.frames) == 0 {
				return nil
			}
			vm.push(result)

		default:
			stepErr = fmt.Errorf("unknown opcode %d", op)
		}

		if stepErr != nil {
			return &RuntimeError{Line: ch.LineAt(opStart), Message: stepErr.Error()}
		}
	}
}

func (vm *VM) constantName(ch *chunk.Chunk, frame *CallFrame) string {
	idx := ch.Code[frame.IP]
	frame.IP++
	s, _ := ch.Constants[idx].IsString()
	return s.Chars
}

func (vm *VM) readShort(ch *chunk.Chunk, frame *CallFrame) uint16 {
	offset := uint16(ch.Code[frame.IP]) | uint16(ch.Code[frame.IP+1])<<8
	frame.IP += 2
	return offset
}

// call dispatches OpCall: argc arguments sit on top of the stack, with
// the callee just beneath them. Script functions push a new frame;
// natives run to completion immediately and leave their result where
// the callee and its arguments used to be.
func (vm *VM) call(argc int) error {
	calleeIdx := len(vm.stack) - 1 - argc
	callee := vm.stack[calleeIdx]

	if fn, ok := callee.IsFunction(); ok {
		if fn.Arity != argc {
			return fmt.Errorf("Expected %d arguments but got %d.", fn.Arity, argc)
		}
		if len(vm.frames) >= maxFrames {
			return errors.New("Stack overflow.")
		}
		vm.frames = append(vm.frames, CallFrame{Function: fn, StackBase: calleeIdx})
		return nil
	}

	if native, ok := callee.IsNative(); ok {
		args := append([]value.Value(nil), vm.stack[calleeIdx+1:]...)
		result, err := native.Fn(args)
		if err != nil {
			return err
		}
		vm.stack = vm.stack[:calleeIdx]
		vm.push(result)
		return nil
	}

	return errors.New("Can only call functions.")
}

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() value.Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[len(vm.stack)-1-distance]
}

func (vm *VM) add() error {
	b, a := vm.peek(0), vm.peek(1)
	if as, ok := a.IsString(); ok {
		if bs, ok := b.IsString(); ok {
			vm.pop()
			vm.pop()
			vm.push(value.NewString(as.Chars + bs.Chars))
			return nil
		}
	}
	if a.Type == value.Number && b.Type == value.Number {
		vm.pop()
		vm.pop()
		vm.push(value.NewNumber(a.AsNumber + b.AsNumber))
		return nil
	}
	return errors.New("Operands must be two numbers or two strings.")
}

func (vm *VM) numericBinary(op func(a, b float64) float64) error {
	b, a := vm.peek(0), vm.peek(1)
	if a.Type != value.Number || b.Type != value.Number {
		return errors.New("Operands must be numbers.")
	}
	vm.pop()
	vm.pop()
	vm.push(value.NewNumber(op(a.AsNumber, b.AsNumber)))
	return nil
}

func (vm *VM) numericCompare(op func(a, b float64) bool) error {
	b, a := vm.peek(0), vm.peek(1)
	if a.Type != value.Number || b.Type != value.Number {
		return errors.New("Operands must be numbers.")
	}
	vm.pop()
	vm.pop()
	vm.push(value.NewBoolean(op(a.AsNumber, b.AsNumber)))
	return nil
}

// negate implements OpNegate: arithmetic negation for Number, a
// character reversal for String, and a runtime error for anything else.
func (vm *VM) negate() error {
	top := vm.peek(0)
	switch {
	case top.Type == value.Number:
		v := vm.pop()
		vm.push(value.NewNumber(-v.AsNumber))
		return nil
	default:
		if s, ok := top.IsString(); ok {
			vm.pop()
			vm.push(value.NewString(reverseString(s.Chars)))
			return nil
		}
	}
	return errors.New("Operand must be a number or a string.")
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
