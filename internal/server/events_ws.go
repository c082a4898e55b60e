package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleEventsWS streams run events over a websocket: buffered replay from
// the optional after_id, then live events until the run reaches a terminal
// state or the client disconnects.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	runHash := chi.URLParam(r, "runHash")
	if _, err := s.cfg.Engine.Get(runHash); err != nil {
		s.writeDomainError(w, err)
		return
	}
	lastSent := int64(-1)
	if v := r.URL.Query().Get("after_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid after_id")
			return
		}
		lastSent = n
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	buffer := s.cfg.Engine.Buffer(runHash)

	// Subscribe before replay so no event can fall between the two.
	subID, live := buffer.Subscribe()
	defer buffer.Unsubscribe(subID)

	events, terminal, err := s.cfg.Engine.Events(runHash, lastSent)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "replay failed")
		return
	}
	for _, ev := range events {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			return
		}
		lastSent = ev.ID
	}
	if terminal {
		conn.Close(websocket.StatusNormalClosure, "run terminal")
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case ev, ok := <-live:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "buffer closed")
				return
			}
			if ev.ID <= lastSent {
				continue
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
			lastSent = ev.ID
			if ev.Type == "completed" || ev.Type == "cancelled" || ev.Type == "error" {
				conn.Close(websocket.StatusNormalClosure, "run terminal")
				return
			}
		}
	}
}
