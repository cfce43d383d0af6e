package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/internal/session"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
	"github.com/MrWong99/spellcast/pkg/spell"
)

// recognizeRequest is the JSON body of POST /v1/recognize.
type recognizeRequest struct {
	utterance
	Archetype string `json:"archetype"`
	Language  string `json:"language"`
}

// handleRecognize handles POST /v1/recognize.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	var req recognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.empty() {
		http.Error(w, "text or tokens is required", http.StatusBadRequest)
		return
	}

	b, err := s.binding(req.Archetype, req.Language)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.session(b)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ev, _, err := sess.Handle(r.Context(), req.transcript())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCastResponse(ev))
}

// spellsResponse is the JSON body of GET /v1/spells.
type spellsResponse struct {
	Catalogue  spell.Meta    `json:"catalogue"`
	Spells     []spell.Spell `json:"spells"`
	Archetypes []string      `json:"archetypes"`
}

// handleSpells handles GET /v1/spells.
func (s *Server) handleSpells(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, spellsResponse{
		Catalogue:  s.store.Meta(),
		Spells:     s.store.List(),
		Archetypes: s.store.Archetypes(),
	})
}

// handleStream handles GET /v1/stream?archetype=&language=&player=.
//
// The connection gets its own session. Every text frame carries one closed
// utterance ({"text": ...} or {"tokens": [...]}) and is answered with one
// cast frame. The stream ends when the client closes the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	b, err := s.binding(q.Get("archetype"), q.Get("language"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	playerID := q.Get("player")
	if playerID == "" {
		playerID = "anonymous"
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	log := observe.Logger(ctx).With("player_id", playerID)

	g, gctx := errgroup.WithContext(ctx)
	casts := make(chan session.Event, 16)
	sess, err := s.manager.NewSession(playerID, b, func(ev session.Event) {
		select {
		case casts <- ev:
		case <-gctx.Done():
		}
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
		defer s.metrics.ActiveSessions.Add(ctx, -1)
	}
	log.Info("stream opened", "archetype", b.Archetype, "language", b.Language)

	finals := make(chan stt.Transcript)

	// Reader: frames -> finals. A client close ends the stream.
	g.Go(func() error {
		defer close(finals)
		for {
			_, data, err := conn.Read(gctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
					websocket.CloseStatus(err) == websocket.StatusGoingAway {
					return nil
				}
				return err
			}
			var u utterance
			if err := json.Unmarshal(data, &u); err != nil {
				log.Debug("stream: dropping malformed frame", "err", err)
				continue
			}
			select {
			case finals <- u.transcript():
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Recognition loop.
	g.Go(func() error {
		defer close(casts)
		return sess.Run(gctx, finals)
	})

	// Writer: casts -> frames.
	g.Go(func() error {
		for ev := range casts {
			resp := newCastResponse(ev)
			resp.PlayerID = ev.PlayerID
			data, err := json.Marshal(resp)
			if err != nil {
				return err
			}
			if err := conn.Write(gctx, websocket.MessageText, data); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, ctx.Err()) {
		log.Debug("stream ended", "err", err)
		conn.Close(websocket.StatusInternalError, "stream failed")
		return
	}
	log.Info("stream closed")
	conn.Close(websocket.StatusNormalClosure, "")
}
