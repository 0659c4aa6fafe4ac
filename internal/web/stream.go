package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"VirtualDoctor/internal/session"
	"VirtualDoctor/internal/tips"
)

const writeWait = 5 * time.Second

type tipMessage struct {
	Index int    `json:"index"`
	Tip   string `json:"tip"`
}

// handleTips streams the Home page tips over a WebSocket. The stream ends
// when the client disconnects or the session leaves the Home page.
func (s *Server) handleTips(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.existing(r)
	if !ok {
		http.Error(w, "session not found", http.StatusUnauthorized)
		return
	}

	ctx, cancel, ok := sess.PageContext(context.Background(), session.PageHome)
	if !ok {
		http.Error(w, "tips are only streamed on the Home page", http.StatusConflict)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", sess.ID, "error", err)
		return
	}
	defer conn.Close()

	// Control frames are handled by the reader; any read error means the
	// client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	rot := tips.NewRotator(s.tips)
	s.logger.Debug("tip stream started", "session_id", sess.ID, "tips", rot.Len())
	err = rot.Run(ctx, s.tipInterval, func(index int, tip string) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteJSON(tipMessage{Index: index, Tip: tip})
	})

	if errors.Is(err, context.Canceled) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "left home")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = nil
	}
	if err != nil {
		s.logger.Debug("tip stream ended", "session_id", sess.ID, "error", err)
		return
	}
	s.logger.Debug("tip stream stopped", "session_id", sess.ID)
}
