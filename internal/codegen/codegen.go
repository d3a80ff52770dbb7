// Package codegen generates the short join codes players type in to find a session.
package codegen

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/victornm/quizsync/internal/errors"
)

const (
	// Alphabet leaves out 0, O, 1 and I, which are easily confused on a shared screen.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	DefaultLength      = 6
	DefaultMaxAttempts = 16
)

type Config struct {
	Length      int
	MaxAttempts int
	// Rand is the entropy source, crypto/rand when nil.
	Rand io.Reader
}

type Generator struct {
	length      int
	maxAttempts int
	rand        io.Reader
	max         *big.Int
}

func NewGenerator(c Config) *Generator {
	g := &Generator{
		length:      c.Length,
		maxAttempts: c.MaxAttempts,
		rand:        c.Rand,
		max:         big.NewInt(int64(len(Alphabet))),
	}

	if g.length <= 0 {
		g.length = DefaultLength
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.rand == nil {
		g.rand = rand.Reader
	}

	return g
}

// Generate returns one random code. It does not check uniqueness.
func (g *Generator) Generate() (string, error) {
	code := make([]byte, g.length)
	for i := range code {
		n, err := rand.Int(g.rand, g.max)
		if err != nil {
			return "", fmt.Errorf("codegen: read random: %w", err)
		}
		code[i] = Alphabet[n.Int64()]
	}

	return string(code), nil
}

// TryFunc attempts to claim code. It reports false if the code is already held by a live session.
type TryFunc func(ctx context.Context, code string) (bool, error)

// Allocate generates codes until try claims one. It gives up with CodeSpaceExhausted after the
// configured number of collisions, and returns any error from try as is.
func (g *Generator) Allocate(ctx context.Context, try TryFunc) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := g.Generate()
		if err != nil {
			return "", err
		}

		ok, err := try(ctx, code)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}

	return "", errors.New(errors.KindCodeSpaceExhausted,
		errors.WithMessagef("no free join code after %d attempts", g.maxAttempts))
}

// Normalize canonicalizes a user-typed code for lookup.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
