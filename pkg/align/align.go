// Package align scores how well a sequence of heard ASR tokens matches the
// tokens of a trigger phrase.
//
// Three scorers are provided, all returning values in [0.0, 1.0]:
//
//   - [Similarity]: normalised Levenshtein similarity between two tokens.
//   - [Concat]: dynamic-programming alignment that maps every phrase token to
//     a span of 1..maxMergeSpan adjacent heard tokens concatenated without
//     separators, skipping heard tokens as noise where that helps. This
//     recovers from ASR word-splitting ("iceshards" heard as "ice shar ds").
//   - [Window]: a phrase-length window slid over the heard tokens, comparing
//     position by position. Cheap and exact when ASR keeps word boundaries.
//
// [Phrase] combines the last two by taking the maximum.
//
// The package-level functions are pure and safe for concurrent use. A
// [Scorer] reuses its DP and edit-distance buffers between calls and must not
// be shared between goroutines.
package align

import "slices"

// DefaultMaxMergeSpan is the default upper bound on how many adjacent heard
// tokens may be concatenated to match one phrase token. Real ASR splits rarely
// exceed two or three pieces.
const DefaultMaxMergeSpan = 3

// Levenshtein returns the edit distance between a and b counted in runes,
// with unit cost for insertion, deletion and substitution.
func Levenshtein(a, b string) int {
	var s Scorer
	return s.distance([]rune(a), []rune(b))
}

// Similarity returns 1 - Levenshtein(a, b) / max(len(a), len(b)), with
// lengths in runes. Two empty strings are fully similar.
func Similarity(a, b string) float64 {
	var s Scorer
	return s.similarity([]rune(a), []rune(b))
}

// Concat returns the best concatenation-aligned score of heard against phrase,
// averaged per phrase token. It is 0 when either sequence is empty. A
// maxMergeSpan below 1 is treated as 1.
func Concat(heard, phrase []string, maxMergeSpan int) float64 {
	var s Scorer
	return s.Concat(heard, phrase, maxMergeSpan)
}

// Window returns the best sliding-window average similarity of heard against
// phrase. It is 0 when either sequence is empty.
func Window(heard, phrase []string) float64 {
	var s Scorer
	return s.Window(heard, phrase)
}

// Phrase returns max(Concat, Window) for heard against phrase.
func Phrase(heard, phrase []string, maxMergeSpan int) float64 {
	var s Scorer
	return s.Phrase(heard, phrase, maxMergeSpan)
}

// Scorer holds reusable scratch buffers for the scoring functions. The zero
// value is ready to use. A Scorer is not safe for concurrent use.
type Scorer struct {
	heardSrc []string
	heard    [][]rune
	phrase   [][]rune
	concat   []rune

	prevRow, curRow []float64
	prevLev, curLev []int
}

// Concat is the buffer-reusing form of the package-level [Concat].
//
// dp[j][t] is the best total similarity of the first j phrase tokens against
// the first t heard tokens. Each phrase token consumes a span of 1..span heard
// tokens ending at t, or heard token t is skipped as noise. Only two rows of
// the table are kept because the score, not the alignment, is needed.
func (s *Scorer) Concat(heard, phrase []string, maxMergeSpan int) float64 {
	h, p := len(heard), len(phrase)
	if h == 0 || p == 0 {
		return 0
	}
	maxMergeSpan = max(maxMergeSpan, 1)

	s.loadHeard(heard)
	s.loadPhrase(phrase)

	s.prevRow = resize(s.prevRow, h+1)
	s.curRow = resize(s.curRow, h+1)
	prev, cur := s.prevRow, s.curRow
	clear(prev) // dp[0][t] = 0: leading noise is free

	for j := 1; j <= p; j++ {
		target := s.phrase[j-1]
		cur[0] = 0
		for t := 1; t <= h; t++ {
			best := cur[t-1]
			for span := 1; span <= min(maxMergeSpan, t); span++ {
				start := t - span // 0-based index of the first merged token
				s.concat = s.concat[:0]
				for k := start; k < t; k++ {
					s.concat = append(s.concat, s.heard[k]...)
				}
				if v := prev[start] + s.similarity(s.concat, target); v > best {
					best = v
				}
			}
			cur[t] = best
		}
		prev, cur = cur, prev
	}

	return clamp(slices.Max(prev) / float64(p))
}

// Window is the buffer-reusing form of the package-level [Window].
//
// Window starts run from 0 to max(0, H-P). When the phrase is longer than the
// heard sequence the single window at 0 is scored and heard positions past
// the end contribute 0.
func (s *Scorer) Window(heard, phrase []string) float64 {
	h, p := len(heard), len(phrase)
	if h == 0 || p == 0 {
		return 0
	}

	s.loadHeard(heard)
	s.loadPhrase(phrase)

	best := 0.0
	for start := range max(1, h-p+1) {
		sum := 0.0
		for k := range p {
			if start+k < h {
				sum += s.similarity(s.heard[start+k], s.phrase[k])
			}
		}
		best = max(best, sum/float64(p))
	}
	return clamp(best)
}

// Phrase is the buffer-reusing form of the package-level [Phrase].
func (s *Scorer) Phrase(heard, phrase []string, maxMergeSpan int) float64 {
	return max(s.Concat(heard, phrase, maxMergeSpan), s.Window(heard, phrase))
}

func (s *Scorer) similarity(a, b []rune) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(s.distance(a, b))/float64(longest)
}

// distance is a two-row Levenshtein; the rows are sized by the shorter input.
func (s *Scorer) distance(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}

	n := len(b) + 1
	s.prevLev = resizeInts(s.prevLev, n)
	s.curLev = resizeInts(s.curLev, n)
	prev, cur := s.prevLev, s.curLev
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// loadHeard converts heard to runes unless the previous call already did so
// for an equal sequence, which is the common case when one utterance is
// scored against many phrases.
func (s *Scorer) loadHeard(heard []string) {
	if s.heard != nil && slices.Equal(s.heardSrc, heard) {
		return
	}
	s.heardSrc = append(s.heardSrc[:0], heard...)
	s.heard = s.heard[:0]
	for _, tok := range heard {
		s.heard = append(s.heard, []rune(tok))
	}
}

func (s *Scorer) loadPhrase(phrase []string) {
	s.phrase = s.phrase[:0]
	for _, tok := range phrase {
		s.phrase = append(s.phrase, []rune(tok))
	}
}

func resize(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	return buf[:n]
}

func resizeInts(buf []int, n int) []int {
	if cap(buf) < n {
		return make([]int, n)
	}
	return buf[:n]
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
