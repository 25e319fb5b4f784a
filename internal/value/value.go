// Package value implements the tagged-union Value type and the small
// family of heap-shared Objects (strings, functions, natives) used by
// both the compiler (constants) and the VM (stack, globals).
package value

import "fmt"

// Type tags a Value's active variant.
type Type byte

const (
	Number Type = iota
	Boolean
	Nil
	Obj
)

// Value is the tagged union passed around the compiler's constant pool
// and the VM's operand stack. Equality is structural: Number uses
// IEEE-754 equality, strings compare by content, Object handles of
// different kinds are never equal.
type Value struct {
	Type      Type
	AsNumber  float64
	AsBoolean bool
	AsObj     Object
}

// Object is implemented by every heap-shared object kind: String,
// Function, NativeFunction. Copying a Value clones the handle (the
// interface value), never the underlying object — there is no observable
// object identity beyond content for strings, matching spec §3. Because
// every Object is immutable after construction, Go's garbage collector is
// a sufficient substitute for the reference counting described in the
// spec; see DESIGN.md.
type Object interface {
	objectKind() string
}

// ObjString is immutable text. It is interned nowhere special; equality
// of two ObjStrings is purely by content (see Value.Equals).
type ObjString struct {
	Chars string
}

func (*ObjString) objectKind() string { return "string" }

// ObjFunction is a compiled callable, immutable once the compiler that
// produced it finishes. Chunk is typed interface{} rather than
// *chunk.Chunk to avoid an import cycle between value and chunk (chunk
// holds []Value as its constant pool); vm and compiler both assert it
// back to *chunk.Chunk.
type ObjFunction struct {
	Name  string
	Arity int
	Chunk interface{}
}

func (*ObjFunction) objectKind() string { return "function" }

// NativeFn is the signature every host function exposed to scripts must
// implement.
type NativeFn func(args []Value) (Value, error)

// ObjNative is an opaque handle to a host function.
type ObjNative struct {
	Name string
	Fn   NativeFn
}

func (*ObjNative) objectKind() string { return "native function" }

// Constructors.

func NewNumber(n float64) Value { return Value{Type: Number, AsNumber: n} }
func NewBoolean(b bool) Value   { return Value{Type: Boolean, AsBoolean: b} }
func NewNil() Value             { return Value{Type: Nil} }

func NewString(s string) Value {
	return Value{Type: Obj, AsObj: &ObjString{Chars: s}}
}

func NewFunction(fn *ObjFunction) Value {
	return Value{Type: Obj, AsObj: fn}
}

func NewNative(name string, fn NativeFn) Value {
	return Value{Type: Obj, AsObj: &ObjNative{Name: name, Fn: fn}}
}

// IsString reports whether v holds an ObjString, returning it for
// convenience.
func (v Value) IsString() (*ObjString, bool) {
	if v.Type != Obj {
		return nil, false
	}
	s, ok := v.AsObj.(*ObjString)
	return s, ok
}

// IsFunction reports whether v holds an ObjFunction.
func (v Value) IsFunction() (*ObjFunction, bool) {
	if v.Type != Obj {
		return nil, false
	}
	f, ok := v.AsObj.(*ObjFunction)
	return f, ok
}

// IsNative reports whether v holds an ObjNative.
func (v Value) IsNative() (*ObjNative, bool) {
	if v.Type != Obj {
		return nil, false
	}
	n, ok := v.AsObj.(*ObjNative)
	return n, ok
}

// IsFalsey reports whether v is falsey: only Nil and Boolean(false) are;
// everything else, including 0 and "", is truthy.
func (v Value) IsFalsey() bool {
	switch v.Type {
	case Nil:
		return true
	case Boolean:
		return !v.AsBoolean
	default:
		return false
	}
}

// Equals implements structural equality. Reflexive on every non-NaN
// value, symmetric on all values.
func (v Value) Equals(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case Number:
		return v.AsNumber == other.AsNumber
	case Boolean:
		return v.AsBoolean == other.AsBoolean
	case Nil:
		return true
	case Obj:
		if vs, ok := v.IsString(); ok {
			if os, ok := other.IsString(); ok {
				return vs.Chars == os.Chars
			}
			return false
		}
		// Functions/natives compare by handle identity only.
		return v.AsObj == other.AsObj
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Type {
	case Number:
		return fmt.Sprintf("%g", v.AsNumber)
	case Boolean:
		return fmt.Sprintf("%t", v.AsBoolean)
	case Nil:
		return "nil"
	case Obj:
		switch o := v.AsObj.(type) {
		case *ObjString:
			return o.Chars
		case *ObjFunction:
			if o.Name == "" {
				return "<script>"
			}
			return fmt.Sprintf("<fn %s>", o.Name)
		case *ObjNative:
			return fmt.Sprintf("<native fn %s>", o.Name)
		}
	}
	return "unknown"
}
