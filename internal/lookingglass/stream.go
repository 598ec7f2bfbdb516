package lookingglass

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The playground is a lab tool served to any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	streamBuffer = 64
)

// Frame is one websocket message.
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// HandleWebSocket sends a session.info frame, the session's history, then live events
// until the client disconnects or the session is deleted.
func (e *Engine) HandleWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, ok := e.GetSession(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	history, live, cancel := session.Subscribe(streamBuffer)
	defer cancel()

	gone := make(chan struct{})
	go discardIncoming(conn, gone)

	info := Frame{Type: "session.info", Payload: map[string]interface{}{
		"id":         session.ID,
		"variant":    session.Variant,
		"created_at": session.CreatedAt,
		"dropped":    session.Dropped(),
	}}
	if err := writeFrame(conn, info); err != nil {
		return
	}
	for _, event := range history {
		if err := writeFrame(conn, eventFrame(event)); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			e.logger.Debug("websocket closed", "session", sessionID)
			return
		case event, ok := <-live:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session deleted"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeFrame(conn, eventFrame(event)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func eventFrame(event Event) Frame {
	return Frame{Type: string(event.Type), Payload: event}
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// discardIncoming keeps pongs flowing and closes gone once the peer goes away.
// The stream is one-way, so anything the client sends is ignored.
func discardIncoming(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
