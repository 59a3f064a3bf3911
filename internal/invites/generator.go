// Package invites produces the short codes people type to join a group.
package invites

import (
	"crypto/rand"
	"io"
	"strings"
)

// Alphabet omits 0/O and 1/I so codes survive being read aloud or retyped.
// Its length is a power of two, which keeps masked random bytes uniform.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	MinLength     = 6
	MaxLength     = 8
	DefaultLength = 6
)

// Generator draws invite codes uniformly at random. It does not check
// uniqueness; callers retry against their store.
type Generator struct {
	length int
	rand   io.Reader
}

// NewGenerator returns a Generator producing codes of the given length,
// clamped to [MinLength, MaxLength].
func NewGenerator(length int) *Generator {
	return &Generator{length: clampLength(length), rand: rand.Reader}
}

// Length returns the number of characters in generated codes.
func (g *Generator) Length() int {
	return g.length
}

// Generate returns a new candidate code.
func (g *Generator) Generate() string {
	buf := make([]byte, g.length)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		panic("invites: random source failed: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = Alphabet[int(b)&(len(Alphabet)-1)]
	}
	return string(buf)
}

// Canonicalize trims surrounding whitespace and uppercases the code.
func Canonicalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether a canonical code has an acceptable length and only
// alphabet characters.
func Valid(code string) bool {
	if len(code) < MinLength || len(code) > MaxLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

func clampLength(n int) int {
	switch {
	case n <= 0:
		return DefaultLength
	case n < MinLength:
		return MinLength
	case n > MaxLength:
		return MaxLength
	default:
		return n
	}
}
