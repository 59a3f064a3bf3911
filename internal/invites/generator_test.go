package invites

import (
	"bytes"
	"strings"
	"testing"
)

func TestGeneratorProducesValidCodes(t *testing.T) {
	for _, length := range []int{6, 7, 8} {
		gen := NewGenerator(length)
		for i := 0; i < 200; i++ {
			code := gen.Generate()
			if len(code) != length {
				t.Fatalf("expected length %d got %q", length, code)
			}
			if !Valid(code) {
				t.Fatalf("generated invalid code %q", code)
			}
			if strings.ContainsAny(code, "0O1I") {
				t.Fatalf("generated ambiguous character in %q", code)
			}
		}
	}
}

func TestGeneratorClampsLength(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, DefaultLength},
		{-3, DefaultLength},
		{2, MinLength},
		{12, MaxLength},
		{7, 7},
	}

	for _, tc := range cases {
		if got := NewGenerator(tc.in).Length(); got != tc.want {
			t.Fatalf("NewGenerator(%d).Length() = %d want %d", tc.in, got, tc.want)
		}
	}
}

func TestGeneratorMapsBytesUniformly(t *testing.T) {
	gen := &Generator{length: 6, rand: bytes.NewReader([]byte{0, 31, 32, 63, 255, 8})}

	got := gen.Generate()
	want := string([]byte{Alphabet[0], Alphabet[31], Alphabet[0], Alphabet[31], Alphabet[31], Alphabet[8]})
	if got != want {
		t.Fatalf("expected %q got %q", want, got)
	}
}

func TestCanonicalizeAndValid(t *testing.T) {
	if got := Canonicalize("  ab3xZ9 \n"); got != "AB3XZ9" {
		t.Fatalf("unexpected canonical form %q", got)
	}

	cases := map[string]bool{
		"AB3XZ9":    true,
		"ABCDEFGH":  true,
		"ABC":       false,
		"ABCDEFGHJ": false,
		"AB0XZ9":    false,
		"ab3xz9":    false,
		"AB-XZ9":    false,
	}
	for code, want := range cases {
		if got := Valid(code); got != want {
			t.Fatalf("Valid(%q) = %v want %v", code, got, want)
		}
	}
}
