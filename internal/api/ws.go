package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amaydixit11/causalchat/internal/engine"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamRequest is a send issued over the websocket
type StreamRequest struct {
	Process int    `json:"process"`
	Payload string `json:"payload"`
}

// Stream handles GET /ws. It pushes engine events as JSON and accepts
// {"process","payload"} frames as sends. ?process=N limits the feed to one
// process.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	opts := engine.SubscriptionOptions{BufferSize: 256}
	if v := r.URL.Query().Get("process"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "process must be an integer")
			return
		}
		opts.ProcessID = &id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	e := h.sim.Engine()
	sub := e.SubscribeWithOptions(opts)
	go h.writePump(conn, sub)
	h.readPump(conn, e, sub)
}

func (h *Handler) readPump(conn *websocket.Conn, e engine.Engine, sub engine.Subscription) {
	defer func() {
		e.Unsubscribe(sub)
		conn.Close()
	}()
	for {
		var req StreamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		if strings.TrimSpace(req.Payload) == "" {
			continue
		}
		if _, err := h.sim.Send(req.Process, req.Payload); err != nil {
			h.logger.Warn().Err(err).Int("process", req.Process).Msg("websocket send rejected")
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub engine.Subscription) {
	defer conn.Close()
	for ev := range sub.Events() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, []byte{})
}
