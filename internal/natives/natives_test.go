package natives

import (
	"strings"
	"testing"

	"github.com/estevaofon/noxy-vm/internal/value"
	"github.com/estevaofon/noxy-vm/internal/vm"
)

func newMachine(t *testing.T) *vm.VM {
	t.Helper()
	m := vm.New()
	NewRegistry().Register(m)
	return m
}

func call(t *testing.T, m *vm.VM, name string, args ...value.Value) value.Value {
	t.Helper()
	g, ok := m.Global(name)
	if !ok {
		t.Fatalf("native %q not registered", name)
	}
	native, ok := g.IsNative()
	if !ok {
		t.Fatalf("global %q is not a native function", name)
	}
	result, err := native.Fn(args)
	if err != nil {
		t.Fatalf("%s(): unexpected error: %v", name, err)
	}
	return result
}

func TestClockReturnsANumber(t *testing.T) {
	m := newMachine(t)
	result := call(t, m, "clock")
	if result.Type != value.Number {
		t.Fatalf("clock() returned %v, want a Number", result.Type)
	}
	if result.AsNumber <= 0 {
		t.Fatalf("clock() returned %g, want a positive epoch-millisecond value", result.AsNumber)
	}
}

func TestUuidReturnsA36CharString(t *testing.T) {
	m := newMachine(t)
	result := call(t, m, "uuid")
	s, ok := result.IsString()
	if !ok {
		t.Fatalf("uuid() returned %v, want a String", result.Type)
	}
	if len(s.Chars) != 36 {
		t.Fatalf("uuid() returned %q, want a canonical 36-char UUID", s.Chars)
	}
}

func TestHumanizeBytes(t *testing.T) {
	m := newMachine(t)
	result := call(t, m, "humanize_bytes", value.NewNumber(1<<20))
	s, ok := result.IsString()
	if !ok {
		t.Fatalf("humanize_bytes() returned %v, want a String", result.Type)
	}
	if !strings.Contains(s.Chars, "MB") {
		t.Fatalf("humanize_bytes(1<<20) = %q, want it to mention MB", s.Chars)
	}
}

func TestStrftimeFormatsAnEpoch(t *testing.T) {
	m := newMachine(t)
	// 2024-01-02T03:04:05Z in epoch milliseconds.
	result := call(t, m, "strftime", value.NewString("%Y-%m-%d"), value.NewNumber(1704164645000))
	s, ok := result.IsString()
	if !ok {
		t.Fatalf("strftime() returned %v, want a String", result.Type)
	}
	if s.Chars != "2024-01-02" {
		t.Fatalf("strftime() = %q, want 2024-01-02", s.Chars)
	}
}

func TestDbOpenExecQueryClose(t *testing.T) {
	m := newMachine(t)

	handle := call(t, m, "db_open", value.NewString(":memory:"))
	if handle.Type != value.Number {
		t.Fatalf("db_open() returned %v, want a Number handle", handle.Type)
	}

	_ = call(t, m, "db_exec", handle, value.NewString("CREATE TABLE items (name TEXT)"))
	affected := call(t, m, "db_exec", handle, value.NewString("INSERT INTO items (name) VALUES ('widget')"))
	if affected.AsNumber != 1 {
		t.Fatalf("db_exec(insert) reported %g rows affected, want 1", affected.AsNumber)
	}

	count := call(t, m, "db_query", handle, value.NewString("SELECT name FROM items"))
	if count.AsNumber != 1 {
		t.Fatalf("db_query(select) reported %g rows, want 1", count.AsNumber)
	}

	closed := call(t, m, "db_close", handle)
	if closed.Type != value.Nil {
		t.Fatalf("db_close() returned %v, want Nil", closed.Type)
	}
}

func TestDbQueryOnUnknownHandleIsAnError(t *testing.T) {
	m := newMachine(t)
	g, _ := m.Global("db_query")
	native, _ := g.IsNative()
	_, err := native.Fn([]value.Value{value.NewNumber(999), value.NewString("SELECT 1")})
	if err == nil {
		t.Fatal("expected an error for a query against an unopened handle")
	}
}
