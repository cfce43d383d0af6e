package spell

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/spellcast/pkg/tokenize"
)

// DefaultConfusableThreshold is the Jaro-Winkler score at or above which two
// trigger phrases of different spells are reported as confusable.
const DefaultConfusableThreshold = 0.92

// phoneticSlack lowers the threshold for pairs that also share a Double
// Metaphone code, since those sound alike even when spelled differently.
const phoneticSlack = 0.1

// Confusable describes two trigger phrases of different spells that are close
// enough that the recognizer may not separate them reliably.
type Confusable struct {
	Language Language
	SpellA   string
	PhraseA  string
	SpellB   string
	PhraseB  string

	// Score is the Jaro-Winkler similarity of the normalised phrases.
	Score float64

	// Phonetic is true when the phrases share a Double Metaphone code.
	Phonetic bool
}

// FindConfusables compares every trigger phrase in lang against the phrases of
// every other spell and returns the pairs that score at or above threshold
// (or threshold minus a small slack when they also sound alike). Pairs are
// returned in catalogue order. A threshold <= 0 selects
// [DefaultConfusableThreshold].
//
// Phrases are compared after tokenization, so case and punctuation never make
// two phrases look different.
func FindConfusables(spells []Spell, lang Language, threshold float64) []Confusable {
	if threshold <= 0 {
		threshold = DefaultConfusableThreshold
	}

	type entry struct {
		spell  string
		phrase string
		norm   string
		codes  map[string]struct{}
	}

	var entries []entry
	for _, s := range spells {
		for _, p := range s.PhrasesFor(lang) {
			toks := tokenize.Tokenize(p)
			if len(toks) == 0 {
				continue
			}
			entries = append(entries, entry{
				spell:  s.ID,
				phrase: p,
				norm:   strings.Join(toks, " "),
				codes:  metaphoneCodes(strings.Join(toks, "")),
			})
		}
	}

	var out []Confusable
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			if a.spell == b.spell {
				continue
			}
			score := matchr.JaroWinkler(a.norm, b.norm, false)
			phonetic := codesOverlap(a.codes, b.codes)
			if score >= threshold || (phonetic && score >= threshold-phoneticSlack) {
				out = append(out, Confusable{
					Language: lang,
					SpellA:   a.spell,
					PhraseA:  a.phrase,
					SpellB:   b.spell,
					PhraseB:  b.phrase,
					Score:    score,
					Phonetic: phonetic,
				})
			}
		}
	}
	return out
}

// metaphoneCodes returns the non-empty Double Metaphone codes of word. Words
// without Latin consonants (including Cyrillic) produce no codes.
func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
