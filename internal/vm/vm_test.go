package vm

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/estevaofon/noxy-vm/internal/compiler"
	"github.com/estevaofon/noxy-vm/internal/value"
)

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// everything written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stdout
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = orig

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func runSource(t *testing.T, source string) (string, error) {
	t.Helper()
	fn, errs := compiler.Compile(source)
	if fn == nil {
		t.Fatalf("compile failed: %v", errs)
	}
	machine := New()
	var runErr error
	out := captureStdout(t, func() {
		runErr = machine.Interpret(fn)
	})
	return out, runErr
}

func TestArithmeticPrecedence(t *testing.T) {
	out, err := runSource(t, `print 1 + 2 * 3;`)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if strings.TrimSpace(out) != "7" {
		t.Fatalf("got %q, want 7", out)
	}
}

func TestStringConcatenation(t *testing.T) {
	out, err := runSource(t, `print "foo" + "bar";`)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if strings.TrimSpace(out) != "foobar" {
		t.Fatalf("got %q, want foobar", out)
	}
}

func TestForLoopAccumulation(t *testing.T) {
	out, err := runSource(t, `
		var sum = 0;
		for (var i = 1; i <= 3; i = i + 1) {
			sum = sum + i;
		}
		print sum;
	`)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if strings.TrimSpace(out) != "6" {
		t.Fatalf("got %q, want 6", out)
	}
}

func TestRecursiveFibonacci(t *testing.T) {
	out, err := runSource(t, `
		fun fib(n) {
			if (n < 2) {
				return n;
			}
			return fib(n - 1) + fib(n - 2);
		}
		print fib(10);
	`)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if strings.TrimSpace(out) != "55" {
		t.Fatalf("got %q, want 55", out)
	}
}

func TestBlockShadowingPrintOrder(t *testing.T) {
	out, err := runSource(t, `
		var a = 1;
		{
			var a = 2;
			print a;
		}
		print a;
	`)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if got := strings.TrimSpace(out); got != "2\n1" {
		t.Fatalf("got %q, want \"2\\n1\"", got)
	}
}

func TestNilEqualsFalseIsFalse(t *testing.T) {
	out, err := runSource(t, `print nil == false;`)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if strings.TrimSpace(out) != "false" {
		t.Fatalf("got %q, want false", out)
	}
}

func TestUninitializedVarIsNil(t *testing.T) {
	out, err := runSource(t, `
		var a;
		print a;
	`)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if strings.TrimSpace(out) != "nil" {
		t.Fatalf("got %q, want nil", out)
	}
}

func TestAddingNumberAndStringIsRuntimeError(t *testing.T) {
	fn, errs := compiler.Compile(`print 1 + "a";`)
	if fn == nil {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	machine := New()
	err := machine.Interpret(fn)
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	if !strings.Contains(err.Error(), "Error in script") {
		t.Fatalf("unexpected error shape: %v", err)
	}
}

func TestNegateReversesStrings(t *testing.T) {
	out, err := runSource(t, `print -"hello";`)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if strings.TrimSpace(out) != "olleh" {
		t.Fatalf("got %q, want olleh", out)
	}
}

func TestAndOrShortCircuit(t *testing.T) {
	out, err := runSource(t, `
		fun loud(v) {
			print v;
			return v;
		}
		if (false and loud("and-rhs")) {}
		if (true or loud("or-rhs")) {}
		print "done";
	`)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if strings.TrimSpace(out) != "done" {
		t.Fatalf("short-circuit leaked into output: %q", out)
	}
}

func TestGlobalsPersistAcrossInterpretCalls(t *testing.T) {
	machine := New()

	fn1, errs := compiler.Compile(`var counter = 1;`)
	if fn1 == nil {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	if err := machine.Interpret(fn1); err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}

	fn2, errs := compiler.Compile(`print counter;`)
	if fn2 == nil {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	out := captureStdout(t, func() {
		if err := machine.Interpret(fn2); err != nil {
			t.Fatalf("unexpected runtime error: %v", err)
		}
	})
	if strings.TrimSpace(out) != "1" {
		t.Fatalf("got %q, want 1", out)
	}
}

func TestUndefinedGlobalIsRuntimeError(t *testing.T) {
	fn, errs := compiler.Compile(`print missing;`)
	if fn == nil {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	machine := New()
	err := machine.Interpret(fn)
	if err == nil {
		t.Fatal("expected a runtime error for an undefined global")
	}
	if !strings.Contains(err.Error(), "Undefined variable") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestCallArityMismatchIsRuntimeError(t *testing.T) {
	fn, errs := compiler.Compile(`
		fun add(a, b) { return a + b; }
		add(1);
	`)
	if fn == nil {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	machine := New()
	err := machine.Interpret(fn)
	if err == nil {
		t.Fatal("expected an arity-mismatch runtime error")
	}
	if !strings.Contains(err.Error(), "Expected 2 arguments") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestNativeFunctionCall(t *testing.T) {
	machine := New()
	machine.DefineNative("double", func(args []value.Value) (value.Value, error) {
		return value.NewNumber(args[0].AsNumber * 2), nil
	})

	fn, errs := compiler.Compile(`print double(21);`)
	if fn == nil {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	out := captureStdout(t, func() {
		if err := machine.Interpret(fn); err != nil {
			t.Fatalf("unexpected runtime error: %v", err)
		}
	})
	if strings.TrimSpace(out) != "42" {
		t.Fatalf("got %q, want 42", out)
	}
}
