package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/console"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// controlMessage is the text-frame control protocol on session WebSockets.
// Everything else a client sends, text or binary, is raw PTY input.
type controlMessage struct {
	Type string `json:"type"`
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
}

func parseControl(data []byte) (controlMessage, bool) {
	var cm controlMessage
	if json.Unmarshal(data, &cm) != nil || cm.Type == "" {
		return controlMessage{}, false
	}
	return cm, true
}

// terminalStartRequest is the optional body of POST /terminal/start.
type terminalStartRequest struct {
	Command string `json:"command,omitempty"`
}

func (s *Server) startConsole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.store.GetZone(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.consoles.GetOrCreate(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.store.GetConsoleSession(r.Context(), c.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) listConsoleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListConsoleSessions(r.Context(), includeClosed(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getConsoleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetConsoleSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) stopConsoleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetConsoleSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sess.Status == types.SessionClosed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.consoles.Destroy(r.Context(), sess.ZoneName); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// consoleWS attaches a WebSocket client to a zone's live console. The
// session id in the URL must name the console this process serves; rows
// from older processes answer 409 so the client knows to start over.
func (s *Server) consoleWS(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetConsoleSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, ok := s.consoles.Get(sess.ZoneName)
	if !ok || c.SessionID != sess.ID {
		s.writeError(w, r, fmt.Errorf("%w: session %s has no live console", storage.ErrConflict, sess.ID))
		return
	}
	sub, err := c.Subscribe()
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: session %s is closing", storage.ErrConflict, sess.ID))
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		sub.Close()
		return
	}
	s.bridge(ws, sub, c.Write, nil)
}

func (s *Server) startTerminal(w http.ResponseWriter, r *http.Request) {
	var req terminalStartRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.terminals.Start(r.Context(), req.Command)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.store.GetTerminalSession(r.Context(), t.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) listTerminalSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListTerminalSessions(r.Context(), includeClosed(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getTerminalSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetTerminalSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) stopTerminalSession(w http.ResponseWriter, r *http.Request) {
	if err := s.terminals.Stop(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) terminalWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := s.terminals.Get(id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: terminal session %s", storage.ErrNotFound, id))
		return
	}
	sub, err := t.Subscribe()
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: terminal session %s is closing", storage.ErrConflict, id))
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		return
	}
	s.bridge(ws, sub, t.Write, t.Resize)
}

// bridge shuttles bytes between a WebSocket client and a PTY-backed
// session until either side goes away. Output flows to the client as
// binary frames, starting with the session's replay tail. Client frames
// are PTY input, except text frames that parse as a control message.
func (s *Server) bridge(ws *websocket.Conn, sub *console.Subscription, write func([]byte) error, resize func(rows, cols uint16) error) {
	defer ws.Close()
	defer sub.Close()

	if len(sub.Replay) > 0 {
		if err := ws.WriteMessage(websocket.BinaryMessage, sub.Replay); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug().Err(err).Msg("WebSocket read ended")
				}
				return
			}
			if kind == websocket.TextMessage {
				if cm, ok := parseControl(data); ok {
					if cm.Type == "resize" && resize != nil {
						_ = resize(cm.Rows, cm.Cols)
					}
					continue
				}
			}
			if err := write(data); err != nil {
				if errors.Is(err, console.ErrAutomationActive) {
					// Input is dropped while a recipe holds the console.
					continue
				}
				return
			}
		}
	}()

	for {
		select {
		case chunk, ok := <-sub.Ch:
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func includeClosed(r *http.Request) bool {
	return r.URL.Query().Get("include_closed") == "true"
}
