// Package tokenize turns spell phrases and ASR utterances into normalised word
// tokens, and memoises the tokens of known trigger phrases.
//
// A token is a non-empty lowercase string made only of letters, digits and
// apostrophes. Input is NFC-normalised first so that decomposed letters
// (e.g. Cyrillic "й" delivered as "и" + combining breve) stay one letter
// instead of splitting the word.
//
// [Tokenize] is pure and safe for concurrent use. [Cache] is safe for
// concurrent use.
package tokenize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// typographicApostrophe is the right single quotation mark that many ASR
// engines emit in contractions ("don’t").
const typographicApostrophe = '’'

// Tokenize splits text into lowercase word tokens. Any run of characters that
// are not letters, digits or apostrophes acts as a separator. Empty or
// whitespace-only input returns nil.
func Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return strings.FieldsFunc(Normalize(text), isSeparator)
}

// Normalize applies the character-level normalisation used by [Tokenize]
// without splitting: NFC composition, apostrophe folding and lowercasing.
// Surrounding whitespace is trimmed.
func Normalize(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, string(typographicApostrophe), "'")
	return strings.ToLower(s)
}

// HasLetter reports whether s contains at least one Unicode letter.
func HasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
}
