package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/craftd/internal/supervisor"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// A nil CheckOrigin rejects cross-origin browsers and accepts clients that
// send no Origin.
var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

// consoleMsg travels both ways. The server sends type "line", "ack" and
// "error"; clients send type "command".
type consoleMsg struct {
	Type    string            `json:"type"`
	Stream  supervisor.Stream `json:"stream,omitempty"`
	Text    string            `json:"text,omitempty"`
	At      *time.Time        `json:"at,omitempty"`
	Command string            `json:"command,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func lineMsg(l supervisor.Line) consoleMsg {
	at := l.At
	return consoleMsg{Type: "line", Stream: l.Stream, Text: l.Text, At: &at}
}

func (r *Router) handleConsole(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the request.
		return
	}
	defer func() { _ = conn.Close() }()

	backlog, lines, cancel := r.backend.Console().TailAndSubscribe(r.opts.ConsoleBacklog)
	defer cancel()

	replies := make(chan consoleMsg, 16)
	done := make(chan struct{})
	go r.readCommands(conn, replies, done)

	for _, l := range backlog {
		if err := writeMsg(conn, lineMsg(l)); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				return
			}
			if err := writeMsg(conn, lineMsg(l)); err != nil {
				return
			}
		case m := <-replies:
			if err := writeMsg(conn, m); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readCommands forwards client commands to the server's stdin until the
// connection closes. Replies go through the writer goroutine.
func (r *Router) readCommands(conn *websocket.Conn, replies chan<- consoleMsg, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var m consoleMsg
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		var reply consoleMsg
		switch {
		case m.Type != "command":
			reply = consoleMsg{Type: "error", Error: "unknown message type " + m.Type}
		case m.Command == "":
			reply = consoleMsg{Type: "error", Error: "command required"}
		default:
			if err := r.backend.SendCommand(m.Command); err != nil {
				reply = consoleMsg{Type: "error", Command: m.Command, Error: err.Error()}
			} else {
				reply = consoleMsg{Type: "ack", Command: m.Command}
			}
		}
		select {
		case replies <- reply:
		default:
		}
	}
}

func writeMsg(conn *websocket.Conn, m consoleMsg) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(m)
}
