package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/submission"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type       string                 `json:"type"` // status or error
	Submission *submission.StatusView `json:"submission,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// handleWatch pushes a status snapshot whenever the status changes and
// closes the connection once the submission is terminal.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := s.svc.Status(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "submission not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Cancelled when the client goes away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.WatchInterval)
	defer ticker.Stop()

	var last storage.Status
	for {
		if view.Status != last {
			if err := s.wsWriteJSON(conn, wsOutgoing{Type: "status", Submission: view}); err != nil {
				return
			}
			last = view.Status
		}
		if view.Status.Terminal() {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
				time.Now().Add(time.Second))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		view, err = s.svc.Status(ctx, id)
		if err != nil {
			s.wsWriteJSON(conn, wsOutgoing{Type: "error", Error: err.Error()})
			return
		}
	}
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("websocket marshal failed")
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.WithError(err).Debug("websocket write failed")
		return err
	}
	return nil
}
