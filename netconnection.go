package signalr

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

type netConnection struct {
	*ConnectionBase
	conn net.Conn
}

// NewNetConnection wraps net.Conn into a Connection, e.g. to talk to a hub over plain TCP.
// As there is no negotiation, the connection gets a random connection id.
// The net.Conn is closed when ctx is canceled or the Connection is closed.
func NewNetConnection(ctx context.Context, conn net.Conn) Connection {
	netConn := &netConnection{
		ConnectionBase: NewConnectionBase(ctx, uuid.NewString()),
		conn:           conn,
	}
	go func() {
		<-netConn.Context().Done()
		_ = conn.Close()
	}()
	return netConn
}

func (nc *netConnection) Write(p []byte) (n int, err error) {
	n, err = ReadWriteWithContext(nc.Context(),
		func() (int, error) { return nc.conn.Write(p) },
		func() { _ = nc.conn.SetWriteDeadline(time.Now()) })
	if err != nil {
		err = fmt.Errorf("%T: %w", nc, err)
	}
	return n, err
}

func (nc *netConnection) Read(p []byte) (n int, err error) {
	n, err = ReadWriteWithContext(nc.Context(),
		func() (int, error) { return nc.conn.Read(p) },
		func() { _ = nc.conn.SetReadDeadline(time.Now()) })
	if err != nil {
		err = fmt.Errorf("%T: %w", nc, err)
	}
	return n, err
}

func (nc *netConnection) Close() error {
	nc.Cancel()
	return nil
}
