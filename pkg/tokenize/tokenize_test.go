package tokenize_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/spellcast/pkg/tokenize"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "whitespace only", in: "  \t\n ", want: nil},
		{name: "simple phrase", in: "Ice Shard", want: []string{"ice", "shard"}},
		{name: "punctuation separates", in: "fire-bolt, now!", want: []string{"fire", "bolt", "now"}},
		{name: "apostrophes kept", in: "Tasha's hideous laughter", want: []string{"tasha's", "hideous", "laughter"}},
		{name: "typographic apostrophe folded", in: "Don’t", want: []string{"don't"}},
		{name: "digits kept", in: "level 3 fireball", want: []string{"level", "3", "fireball"}},
		{name: "cyrillic", in: "Огненная Стрела", want: []string{"огненная", "стрела"}},
		{name: "decomposed cyrillic composed", in: "ледяно\u0438\u0306 осколок", want: []string{"ледяной", "осколок"}},
		{name: "only separators", in: "... --- !!!", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tokenize.Tokenize(tt.in)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Tokenize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTokenize_NeverYieldsEmptyTokens(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"a  b", " , x ,, y , ", " z "} {
		for _, tok := range tokenize.Tokenize(in) {
			if tok == "" {
				t.Fatalf("Tokenize(%q) produced an empty token", in)
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	if got := tokenize.Normalize("  SHARD’S "); got != "shard's" {
		t.Errorf("Normalize = %q, want %q", got, "shard's")
	}
}

func TestHasLetter(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"abc": true,
		"42":  false,
		"'":   false,
		"x1":  true,
		"щ":   true,
		"":    false,
	}
	for in, want := range cases {
		if got := tokenize.HasLetter(in); got != want {
			t.Errorf("HasLetter(%q) = %v, want %v", in, got, want)
		}
	}
}
