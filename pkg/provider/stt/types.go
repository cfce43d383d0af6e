package stt

import (
	"strings"
	"time"
)

// Transcript is one recognised utterance, partial or final.
type Transcript struct {
	// Text is the utterance as a single string.
	Text string

	// IsFinal is false for interim hypotheses, which spellcast ignores.
	IsFinal bool

	// Confidence is the provider's confidence in [0, 1], or 0 when not
	// reported.
	Confidence float64

	// Words holds the utterance split the way the provider heard it. When
	// present it is scored instead of Text, so a word split mid-phrase
	// ("sha", "rd") reaches the recognizer unchanged.
	Words []WordDetail

	// Timestamp is the utterance start relative to the stream start.
	Timestamp time.Duration
}

// Tokens returns the word list of t, or nil when the provider reported no
// word-level detail.
func (t Transcript) Tokens() []string {
	if len(t.Words) == 0 {
		return nil
	}
	out := make([]string, 0, len(t.Words))
	for _, w := range t.Words {
		out = append(out, w.Word)
	}
	return out
}

// Empty reports whether t carries no speech at all.
func (t Transcript) Empty() bool {
	return len(t.Words) == 0 && strings.TrimSpace(t.Text) == ""
}

// WordDetail is one heard word.
type WordDetail struct {
	Word       string
	Confidence float64
}

// KeywordBoost biases a provider towards a vocabulary word, typically a
// token of an invented spell name.
type KeywordBoost struct {
	Keyword string

	// Boost is the provider-specific bias strength.
	Boost float64
}
