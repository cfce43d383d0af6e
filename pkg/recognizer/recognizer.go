// Package recognizer picks which spell a player most likely spoke.
//
// A [Recognizer] is bound to an ordered list of candidate spells and one
// [spell.Language] by [Recognizer.Initialize]. [Recognizer.Recognize] then
// scores every trigger phrase of every candidate against the heard tokens of
// one closed utterance (see package align) and returns the best candidate
// with its similarity.
//
// The recognizer is a pure scoring function: it never applies a confidence
// threshold. With no usable evidence (silence, noise only) it still returns
// the first candidate with similarity 0, so callers must always gate on
// similarity before acting.
//
// Construct one Recognizer per session or player and call Initialize again
// whenever the active catalogue changes. All methods are safe for concurrent
// use; a call in flight while Initialize runs finishes against the catalogue
// it started with.
package recognizer

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/spellcast/pkg/align"
	"github.com/MrWong99/spellcast/pkg/spell"
	"github.com/MrWong99/spellcast/pkg/tokenize"
)

// ErrConfiguration is the root of every recognizer misuse error. Use
// errors.Is(err, ErrConfiguration) to detect them.
var ErrConfiguration = errors.New("recognizer: configuration error")

var (
	// ErrNotInitialized is returned by recognition calls made before the
	// first successful Initialize.
	ErrNotInitialized = fmt.Errorf("%w: not initialized", ErrConfiguration)

	// ErrNoCandidates is returned by Initialize when no spells are given.
	ErrNoCandidates = fmt.Errorf("%w: no candidates registered", ErrConfiguration)

	// ErrInvalidLanguage is returned by Initialize for an unsupported language.
	ErrInvalidLanguage = fmt.Errorf("%w: unsupported language", ErrConfiguration)
)

// Result is the outcome of one recognition call.
type Result struct {
	// SpellID is the ID of the best-scoring spell.
	SpellID string

	// Spell is the full definition of the best-scoring spell.
	Spell spell.Spell

	// Phrase is the trigger phrase that produced Similarity. Empty when
	// Similarity is 0.
	Phrase string

	// Similarity is the match confidence in [0.0, 1.0].
	Similarity float64

	// Heard is the number of heard tokens left after filtering. 0 means the
	// utterance carried no evidence at all.
	Heard int
}

type candidate struct {
	spell   spell.Spell
	phrases []string
}

// snapshot is the immutable state bound by one Initialize call.
type snapshot struct {
	candidates []candidate
	lang       spell.Language
	gen        uint64
}

type resultKey struct {
	gen       uint64
	utterance string
}

// Recognizer scores heard utterances against a bound candidate list.
type Recognizer struct {
	maxMergeSpan     int
	minTokenLength   int
	parallelism      int
	warmAllLanguages bool
	resultCacheSize  int

	cache       *tokenize.Cache
	sharedCache bool
	results     *lru.Cache[resultKey, Result]
	scorers     sync.Pool

	mu   sync.RWMutex
	snap *snapshot
	gen  uint64
}

// New returns an uninitialised [Recognizer] configured with opts.
func New(opts ...Option) *Recognizer {
	r := &Recognizer{
		maxMergeSpan:   align.DefaultMaxMergeSpan,
		minTokenLength: 1,
		parallelism:    1,
	}
	for _, o := range opts {
		o(r)
	}
	if r.cache == nil {
		r.cache = tokenize.NewCache()
	}
	if r.resultCacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		r.results, _ = lru.New[resultKey, Result](r.resultCacheSize)
	}
	r.scorers.New = func() any { return new(align.Scorer) }
	return r
}

// Initialize binds spells (in priority order) and the active language,
// prewarms the phrase cache and drops cached results from any earlier
// binding. Spells without phrases in lang stay selectable but always score 0.
func (r *Recognizer) Initialize(spells []spell.Spell, lang spell.Language) error {
	if !lang.IsValid() {
		return fmt.Errorf("%w %q", ErrInvalidLanguage, lang)
	}
	if len(spells) == 0 {
		return ErrNoCandidates
	}

	cands := make([]candidate, 0, len(spells))
	var warm []string
	for _, s := range spells {
		phrases := slices.Clone(s.PhrasesFor(lang))
		cands = append(cands, candidate{spell: s, phrases: phrases})
		if r.warmAllLanguages {
			warm = append(warm, s.AllPhrases()...)
		} else {
			warm = append(warm, phrases...)
		}
	}

	if !r.sharedCache {
		r.cache.Prewarm(warm)
	}

	r.mu.Lock()
	r.gen++
	r.snap = &snapshot{candidates: cands, lang: lang, gen: r.gen}
	r.mu.Unlock()

	if r.results != nil {
		r.results.Purge()
	}
	return nil
}

// Recognize returns the best-scoring candidate for one utterance given as
// ASR tokens. Blank tokens are dropped and the rest are normalised before
// scoring. Ties are won by the candidate bound first.
func (r *Recognizer) Recognize(tokens []string) (Result, error) {
	snap := r.current()
	if snap == nil {
		return Result{}, ErrNotInitialized
	}

	heard := r.filter(tokens)
	if len(heard) == 0 {
		first := snap.candidates[0].spell
		return Result{SpellID: first.ID, Spell: first}, nil
	}

	key := resultKey{gen: snap.gen, utterance: utteranceKey(heard)}
	if r.results != nil {
		if res, ok := r.results.Get(key); ok {
			return res, nil
		}
	}

	scored := r.score(snap, heard)
	best := scored[0]
	for _, res := range scored[1:] {
		if res.Similarity > best.Similarity {
			best = res
		}
	}

	if r.results != nil {
		r.results.Add(key, best)
	}
	return best, nil
}

// RecognizeText tokenizes a whole utterance string and delegates to
// [Recognizer.Recognize].
func (r *Recognizer) RecognizeText(text string) (Result, error) {
	return r.Recognize(tokenize.Tokenize(text))
}

// Rank scores every bound candidate and returns them ordered by descending
// similarity, equal scores keeping their bound order. Rank(tokens)[0] always
// equals the result of Recognize(tokens).
func (r *Recognizer) Rank(tokens []string) ([]Result, error) {
	snap := r.current()
	if snap == nil {
		return nil, ErrNotInitialized
	}

	heard := r.filter(tokens)
	if len(heard) == 0 {
		out := make([]Result, len(snap.candidates))
		for i, c := range snap.candidates {
			out[i] = Result{SpellID: c.spell.ID, Spell: c.spell}
		}
		return out, nil
	}

	scored := r.score(snap, heard)
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	return scored, nil
}

// Initialized reports whether Initialize has succeeded at least once.
func (r *Recognizer) Initialized() bool {
	return r.current() != nil
}

// Language returns the bound language, or "" before initialisation.
func (r *Recognizer) Language() spell.Language {
	if snap := r.current(); snap != nil {
		return snap.lang
	}
	return ""
}

// Candidates returns the bound spells in priority order.
func (r *Recognizer) Candidates() []spell.Spell {
	snap := r.current()
	if snap == nil {
		return nil
	}
	out := make([]spell.Spell, len(snap.candidates))
	for i, c := range snap.candidates {
		out[i] = c.spell
	}
	return out
}

// Phrases returns every trigger phrase of the bound spells in the bound
// language, in priority order.
func (r *Recognizer) Phrases() []string {
	snap := r.current()
	if snap == nil {
		return nil
	}
	var out []string
	for _, c := range snap.candidates {
		out = append(out, c.phrases...)
	}
	return out
}

// Cache returns the phrase token cache used by this recognizer.
func (r *Recognizer) Cache() *tokenize.Cache {
	return r.cache
}

func (r *Recognizer) current() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// utteranceKey encodes heard tokens injectively: each token is prefixed
// with its byte length, so token boundaries survive any token content.
func utteranceKey(heard []string) string {
	var b strings.Builder
	for _, tok := range heard {
		b.WriteString(strconv.Itoa(len(tok)))
		b.WriteByte(':')
		b.WriteString(tok)
	}
	return b.String()
}

// filter normalises raw ASR tokens and drops blanks and short letterless
// artifacts.
func (r *Recognizer) filter(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = tokenize.Normalize(tok)
		if tok == "" {
			continue
		}
		if utf8.RuneCountInString(tok) < r.minTokenLength && !tokenize.HasLetter(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// score returns one Result per candidate, in bound order.
func (r *Recognizer) score(snap *snapshot, heard []string) []Result {
	out := make([]Result, len(snap.candidates))

	if r.parallelism < 2 || len(snap.candidates) < 2 {
		sc := r.scorers.Get().(*align.Scorer)
		for i, c := range snap.candidates {
			out[i] = r.scoreCandidate(sc, c, heard)
		}
		r.scorers.Put(sc)
		return out
	}

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, c := range snap.candidates {
		g.Go(func() error {
			sc := r.scorers.Get().(*align.Scorer)
			out[i] = r.scoreCandidate(sc, c, heard)
			r.scorers.Put(sc)
			return nil
		})
	}
	_ = g.Wait() // scoring never fails
	return out
}

func (r *Recognizer) scoreCandidate(sc *align.Scorer, c candidate, heard []string) Result {
	res := Result{SpellID: c.spell.ID, Spell: c.spell, Heard: len(heard)}
	for _, p := range c.phrases {
		toks := r.cache.TokensFor(p)
		if v := sc.Phrase(heard, toks, r.maxMergeSpan); v > res.Similarity {
			res.Similarity = v
			res.Phrase = p
		}
	}
	return res
}
