// Package slug genera identificadores secundarios legibles (consonante-vocal)
// y garantiza su unicidad dentro de una coleccion.
package slug

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"account-api/internal/domain"
)

const (
	Consonants = "BCDFGHJKLMNPQRSTVWXYZ"
	Vowels     = "AEIOU"

	// Length es la longitud fija de cada slug.
	Length = 6

	DefaultMaxAttempts = 16
)

// ErrExhausted indica que no se encontro un slug libre dentro del limite de intentos.
var ErrExhausted = errors.New("slug attempts exhausted")

type ExhaustedError struct {
	Collection string
	Attempts   int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("no unique slug in %q after %d attempts", e.Collection, e.Attempts)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}

// Finder es el subconjunto del document store que necesita EnsureUnique.
type Finder interface {
	QueryByField(ctx context.Context, collection, field string, value any) ([]domain.Document, error)
}

// Generator produce slugs y verifica su unicidad contra el store.
type Generator struct {
	MaxAttempts int
	intn        func(n int) int
	observe     func(collection string, attempts int)
}

func NewGenerator(maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{
		MaxAttempts: maxAttempts,
		intn:        rand.IntN,
	}
}

// WithObserver registra un callback que recibe los intentos usados por EnsureUnique.
func (g *Generator) WithObserver(fn func(collection string, attempts int)) *Generator {
	g.observe = fn
	return g
}

// Generate devuelve un slug consonante-vocal de Length caracteres.
func (g *Generator) Generate() string {
	intn := g.intn
	if intn == nil {
		intn = rand.IntN
	}
	buf := make([]byte, Length)
	for i := range buf {
		if i%2 == 0 {
			buf[i] = Consonants[intn(len(Consonants))]
		} else {
			buf[i] = Vowels[intn(len(Vowels))]
		}
	}
	return string(buf)
}

// EnsureUnique prueba candidate y, si ya existe en collection, genera nuevos
// slugs hasta encontrar uno libre. Un candidate vacio se reemplaza por uno generado.
func (g *Generator) EnsureUnique(ctx context.Context, finder Finder, collection, candidate string) (string, error) {
	if finder == nil {
		return "", errors.New("slug finder not configured")
	}
	if candidate == "" {
		candidate = g.Generate()
	}
	for attempt := 1; attempt <= g.MaxAttempts; attempt++ {
		docs, err := finder.QueryByField(ctx, collection, "slug", candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %s: %w", candidate, err)
		}
		if len(docs) == 0 {
			g.report(collection, attempt)
			return candidate, nil
		}
		candidate = g.Generate()
	}
	g.report(collection, g.MaxAttempts)
	return "", &ExhaustedError{Collection: collection, Attempts: g.MaxAttempts}
}

// IsValid reporta si s respeta el patron consonante-vocal.
func IsValid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		set := Consonants
		if i%2 == 1 {
			set = Vowels
		}
		if !containsByte(set, s[i]) {
			return false
		}
	}
	return true
}

func (g *Generator) report(collection string, attempts int) {
	if g.observe != nil {
		g.observe(collection, attempts)
	}
}

func containsByte(set string, b byte) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == b {
			return true
		}
	}
	return false
}
