package slug

import (
	"context"
	"errors"
	"testing"

	"account-api/internal/domain"
)

type mockFinder struct {
	taken   map[string]bool
	queries []string
	err     error
}

func (m *mockFinder) QueryByField(_ context.Context, collection, field string, value any) ([]domain.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	s, _ := value.(string)
	m.queries = append(m.queries, collection+"|"+field+"|"+s)
	if m.taken[s] {
		return []domain.Document{{ID: "doc-" + s, Collection: collection}}, nil
	}
	return nil, nil
}

func TestGenerate_Pattern(t *testing.T) {
	g := NewGenerator(0)
	for i := 0; i < 500; i++ {
		s := g.Generate()
		if len(s) != Length {
			t.Fatalf("expected length %d, got %q", Length, s)
		}
		if !IsValid(s) {
			t.Fatalf("slug %q does not match consonant-vowel pattern", s)
		}
	}
}

func TestIsValid(t *testing.T) {
	cases := map[string]bool{
		"BAKOTE":  true,
		"ZUZUZU":  true,
		"bakote":  false,
		"ABABAB":  false,
		"BAKOT":   false,
		"BAKOTEA": false,
	}
	for in, want := range cases {
		if got := IsValid(in); got != want {
			t.Fatalf("IsValid(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEnsureUnique_ReturnsFreeCandidate(t *testing.T) {
	g := NewGenerator(4)
	finder := &mockFinder{taken: map[string]bool{}}

	got, err := g.EnsureUnique(context.Background(), finder, "users", "BAKOTE")
	if err != nil {
		t.Fatalf("ensure unique: %v", err)
	}
	if got != "BAKOTE" {
		t.Fatalf("expected candidate to be kept, got %q", got)
	}
	if len(finder.queries) != 1 || finder.queries[0] != "users|slug|BAKOTE" {
		t.Fatalf("unexpected queries: %+v", finder.queries)
	}
}

func TestEnsureUnique_RegeneratesOnCollision(t *testing.T) {
	seq := []int{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1}
	g := NewGenerator(4)
	g.intn = func(n int) int {
		v := seq[0]
		seq = seq[1:]
		return v
	}
	var observed int
	g.WithObserver(func(_ string, attempts int) { observed = attempts })
	// BABABA es el primer slug generado y ya existe.
	finder := &mockFinder{taken: map[string]bool{"BAKOTE": true, "BABABA": true}}

	got, err := g.EnsureUnique(context.Background(), finder, "users", "BAKOTE")
	if err != nil {
		t.Fatalf("ensure unique: %v", err)
	}
	if got != "CECECE" {
		t.Fatalf("expected CECECE, got %q", got)
	}
	if finder.taken[got] {
		t.Fatalf("returned slug is taken")
	}
	if observed != 3 {
		t.Fatalf("expected 3 attempts observed, got %d", observed)
	}
}

func TestEnsureUnique_Exhausted(t *testing.T) {
	g := NewGenerator(3)
	g.intn = func(int) int { return 0 }
	finder := &mockFinder{taken: map[string]bool{"BABABA": true}}

	_, err := g.EnsureUnique(context.Background(), finder, "users", "BABABA")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 || exhausted.Collection != "users" {
		t.Fatalf("unexpected error detail: %+v", err)
	}
	if len(finder.queries) != 3 {
		t.Fatalf("expected 3 lookups, got %d", len(finder.queries))
	}
}

func TestEnsureUnique_PropagatesStoreError(t *testing.T) {
	g := NewGenerator(3)
	finder := &mockFinder{err: errors.New("store down")}

	if _, err := g.EnsureUnique(context.Background(), finder, "users", ""); err == nil {
		t.Fatalf("expected store error")
	}
}
