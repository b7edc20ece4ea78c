package signalr

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/coder/websocket"
)

type webSocketConnection struct {
	*ConnectionBase
	conn *websocket.Conn
	// reader of the current message. Only used by Read, which is never called concurrently.
	reader io.Reader
}

func newWebSocketConnection(ctx context.Context, connectionID string, conn *websocket.Conn) *webSocketConnection {
	return &webSocketConnection{
		ConnectionBase: NewConnectionBase(ctx, connectionID),
		conn:           conn,
	}
}

func (w *webSocketConnection) Write(p []byte) (n int, err error) {
	if err := w.conn.Write(w.Context(), websocket.MessageText, p); err != nil {
		return 0, fmt.Errorf("%T: %w", w, err)
	}
	return len(p), nil
}

// Read reads the current websocket message. A frame may span several messages and
// a message may contain several frames, so message boundaries are not visible to the caller.
func (w *webSocketConnection) Read(p []byte) (n int, err error) {
	for {
		if w.reader == nil {
			_, reader, err := w.conn.Reader(w.Context())
			if err != nil {
				w.Cancel()
				return 0, fmt.Errorf("%T: %w", w, err)
			}
			w.reader = reader
		}
		n, err = w.reader.Read(p)
		if errors.Is(err, io.EOF) {
			w.reader = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		if err != nil {
			w.Cancel()
			return n, fmt.Errorf("%T: %w", w, err)
		}
		return n, nil
	}
}

func (w *webSocketConnection) Close() error {
	err := w.conn.Close(websocket.StatusNormalClosure, "")
	w.Cancel()
	return err
}
