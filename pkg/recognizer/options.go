package recognizer

import "github.com/MrWong99/spellcast/pkg/tokenize"

// Option is a functional option for configuring a [Recognizer].
type Option func(*Recognizer)

// WithMaxMergeSpan sets how many adjacent heard tokens may be concatenated to
// match one phrase token. Values below 1 are ignored. Default: 3.
func WithMaxMergeSpan(n int) Option {
	return func(r *Recognizer) {
		if n >= 1 {
			r.maxMergeSpan = n
		}
	}
}

// WithMinTokenLength drops heard tokens shorter than n runes that contain no
// letters (stray digits or apostrophes left by the ASR engine). Default: 1,
// which filters nothing.
func WithMinTokenLength(n int) Option {
	return func(r *Recognizer) {
		if n >= 1 {
			r.minTokenLength = n
		}
	}
}

// WithSharedCache makes the recognizer read phrase tokens from c instead of a
// private cache. The owner of a shared cache is responsible for prewarming it
// (typically with every phrase of the full catalogue); [Recognizer.Initialize]
// then leaves the whitelist alone so sessions bound to different loadouts do
// not evict each other's entries.
func WithSharedCache(c *tokenize.Cache) Option {
	return func(r *Recognizer) {
		if c != nil {
			r.cache = c
			r.sharedCache = true
		}
	}
}

// WithWarmAllLanguages makes [Recognizer.Initialize] prewarm the phrases of
// every language, not only the active one, so a later language switch starts
// warm. Has no effect together with [WithSharedCache].
func WithWarmAllLanguages(warm bool) Option {
	return func(r *Recognizer) {
		r.warmAllLanguages = warm
	}
}

// WithResultCache keeps the last size recognition results keyed by the
// filtered utterance. Useful when a streaming ASR engine repeats identical
// finals. Size 0 disables the cache (the default).
func WithResultCache(size int) Option {
	return func(r *Recognizer) {
		r.resultCacheSize = max(size, 0)
	}
}

// WithParallelism scores candidates on up to n goroutines. Values below 2
// score sequentially (the default). Only large catalogues benefit.
func WithParallelism(n int) Option {
	return func(r *Recognizer) {
		r.parallelism = max(n, 1)
	}
}
