package server

import (
	"context"
	"net/http"
	"time"

	"Versewell/logger"
	"Versewell/model"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 30 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamProgress GET /ws/generations/{id}
//
// Sends the current snapshot, then every progress event, and closes after the
// terminal event.
func (h *Handler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before reading the snapshot so no transition falls in between
	events, unsubscribe, err := h.sessions.Subscribe(ctx, sess.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer unsubscribe()

	if latest, err := h.sessions.Get(ctx, sess.ID); err == nil {
		sess = latest
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", logger.String("sessionId", sess.ID), logger.ErrorField(err))
		return
	}
	defer conn.Close()

	logger.Info("进度订阅建立",
		logger.String("sessionId", sess.ID),
		logger.String("userId", sess.UserID))

	go readPump(conn, cancel)

	snapshot := model.EventFromSession(sess)
	if err := writeEvent(conn, snapshot); err != nil || snapshot.Terminal() {
		closeNormal(conn)
		return
	}
	last := snapshot.PercentComplete

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				closeNormal(conn)
				return
			}
			// stale events published before the snapshot was read
			if !ev.Terminal() && ev.PercentComplete < last {
				continue
			}
			last = ev.PercentComplete
			if err := writeEvent(conn, ev); err != nil {
				logger.Debug("写入进度事件失败", logger.String("sessionId", sess.ID), logger.ErrorField(err))
				return
			}
			if ev.Terminal() {
				closeNormal(conn)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames so pongs and close frames are handled.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev model.ProgressEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func closeNormal(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(writeWait))
}
