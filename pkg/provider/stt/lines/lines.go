// Package lines provides an stt.Provider that reads already-transcribed
// utterances from text, one final transcript per non-empty line.
//
// It stands in for a real speech-to-text backend when driving spellcast from
// a terminal or a test script:
//
//	p := lines.New(os.Stdin)
//	handle, _ := p.StartStream(ctx, stt.StreamConfig{})
//	for tr := range handle.Finals() { ... }
//
// The reader is consumed by the first stream; later streams start at EOF and
// close immediately.
package lines

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/spellcast/pkg/provider/stt"
)

// Provider turns lines of an io.Reader into final transcripts.
type Provider struct {
	mu sync.Mutex
	r  io.Reader
}

// New returns a Provider reading from r.
func New(r io.Reader) *Provider {
	return &Provider{r: r}
}

// StartStream implements stt.Provider. The stream ends at EOF, on a read
// error, when ctx is cancelled or when the handle is closed.
func (p *Provider) StartStream(ctx context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	r := p.r
	p.r = strings.NewReader("")
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		finals: make(chan stt.Transcript),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.scan(ctx, r)
	return s, nil
}

var _ stt.Provider = (*Provider)(nil)

type session struct {
	finals chan stt.Transcript
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *session) scan(ctx context.Context, r io.Reader) {
	defer close(s.done)
	defer close(s.finals)

	start := time.Now()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		tr := stt.Transcript{
			Text:       text,
			IsFinal:    true,
			Confidence: 1,
			Timestamp:  time.Since(start),
		}
		select {
		case s.finals <- tr:
		case <-ctx.Done():
			return
		}
	}
}

// Finals implements stt.SessionHandle.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords implements stt.SessionHandle. Text needs no vocabulary hints.
func (s *session) SetKeywords([]stt.KeywordBoost) error { return stt.ErrNotSupported }

// Close implements stt.SessionHandle. A scan blocked in Read on the
// underlying reader finishes in the background.
func (s *session) Close() error {
	s.cancel()
	return nil
}
