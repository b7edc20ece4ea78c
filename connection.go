package signalr

import (
	"context"
	"io"
)

// Connection describes a connection between signalR client and server.
// Read and Write transport the frames of the hub protocol. Read may return partial frames.
// The Context of a Connection is canceled when the connection is closed or broken.
type Connection interface {
	io.Reader
	io.Writer
	Context() context.Context
	ConnectionID() string
	Close() error
}
