package lexer

import (
	"testing"

	"github.com/estevaofon/noxy-vm/internal/token"
)

func TestNextToken(t *testing.T) {
	input := `var x = 10;
var name = "hi there";
if (x >= 5) {
  print x;
} else {
  print nil;
}
// a comment
x != 3 <= 4`

	tests := []struct {
		kind   token.Kind
		lexeme string
	}{
		{token.Var, "var"},
		{token.Identifier, "x"},
		{token.Equal, "="},
		{token.Number, "10"},
		{token.Semicolon, ";"},
		{token.Var, "var"},
		{token.Identifier, "name"},
		{token.Equal, "="},
		{token.String, `"hi there"`},
		{token.Semicolon, ";"},
		{token.If, "if"},
		{token.LeftParen, "("},
		{token.Identifier, "x"},
		{token.GreaterEqual, ">="},
		{token.Number, "5"},
		{token.RightParen, ")"},
		{token.LeftBrace, "{"},
		{token.Print, "print"},
		{token.Identifier, "x"},
		{token.Semicolon, ";"},
		{token.RightBrace, "}"},
		{token.Else, "else"},
		{token.LeftBrace, "{"},
		{token.Print, "print"},
		{token.Nil, "nil"},
		{token.Semicolon, ";"},
		{token.RightBrace, "}"},
		{token.Identifier, "x"},
		{token.BangEqual, "!="},
		{token.Number, "3"},
		{token.LessEqual, "<="},
		{token.Number, "4"},
		{token.Eof, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok, err := l.NextToken()
		if err != nil {
			t.Fatalf("test[%d]: unexpected scan error: %v", i, err)
		}
		if tok.Kind != tt.kind {
			t.Fatalf("test[%d]: kind wrong, got=%s, want=%s", i, tok.Kind, tt.kind)
		}
		if tt.kind != token.Eof && tok.Lexeme(input) != tt.lexeme {
			t.Fatalf("test[%d]: lexeme wrong, got=%q, want=%q", i, tok.Lexeme(input), tt.lexeme)
		}
	}
}

func TestNumberLiterals(t *testing.T) {
	l := New("123 45.67 0.5")

	for _, want := range []string{"123", "45.67", "0.5"} {
		tok, err := l.NextToken()
		if err != nil {
			t.Fatalf("unexpected scan error: %v", err)
		}
		if tok.Kind != token.Number {
			t.Fatalf("got kind %s, want Number", tok.Kind)
		}
		if got := tok.Lexeme("123 45.67 0.5"); got != want {
			t.Fatalf("got lexeme %q, want %q", got, want)
		}
	}
}

func TestUnterminatedString(t *testing.T) {
	l := New(`"never closed`)
	_, err := l.NextToken()
	if err == nil {
		t.Fatal("expected a scan error for an unterminated string")
	}
	if err.Message != "unterminated string" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
}

func TestUnexpectedCharacter(t *testing.T) {
	l := New("@")
	_, err := l.NextToken()
	if err == nil {
		t.Fatal("expected a scan error for an unexpected character")
	}
}

func TestEofIsIdempotent(t *testing.T) {
	l := New("")
	for i := 0; i < 3; i++ {
		tok, err := l.NextToken()
		if err != nil {
			t.Fatalf("unexpected scan error: %v", err)
		}
		if tok.Kind != token.Eof {
			t.Fatalf("call %d: got %s, want Eof", i, tok.Kind)
		}
	}
}

func TestLineTracking(t *testing.T) {
	l := New("var a = 1;\nvar b = 2;\nprint b;")
	var lastLine int
	for {
		tok, err := l.NextToken()
		if err != nil {
			t.Fatalf("unexpected scan error: %v", err)
		}
		if tok.Kind == token.Eof {
			break
		}
		lastLine = tok.Line
	}
	if lastLine != 3 {
		t.Fatalf("expected final token on line 3, got %d", lastLine)
	}
}
