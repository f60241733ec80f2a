package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MaxMessageBytes bounds a single frame read from a WebSocket peer
const MaxMessageBytes = 4 << 20

const writeWait = 10 * time.Second

// WebSocket adapts a gorilla connection to an Endpoint. A reader goroutine
// feeds Receive and a writer goroutine drains the send queue, so Send stays
// non-blocking.
type WebSocket struct {
	conn      *websocket.Conn
	sendQ     *queue
	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocket wraps an established connection
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(MaxMessageBytes)

	ws := &WebSocket{
		conn:  conn,
		sendQ: newQueue(),
		in:    make(chan []byte, 16),
		done:  make(chan struct{}),
	}
	go ws.readLoop()
	go ws.writeLoop()
	return ws
}

// Dial connects to a boundary host and returns the host-side endpoint
func Dial(ctx context.Context, url string, header http.Header) (*WebSocket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial boundary %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial boundary %s: %w", url, err)
	}
	return NewWebSocket(conn), nil
}

func (w *WebSocket) readLoop() {
	defer close(w.in)
	defer w.Close()

	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.in <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocket) writeLoop() {
	for data := range w.sendQ.out {
		_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			w.Close()
			return
		}
	}
}

func (w *WebSocket) Send(data []byte) error {
	return w.sendQ.push(data)
}

func (w *WebSocket) Receive() <-chan []byte {
	return w.in
}

func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.sendQ.close()
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = w.conn.Close()
	})
	return err
}
