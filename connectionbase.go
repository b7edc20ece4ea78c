package signalr

import (
	"context"
)

// ConnectionBase is a baseclass for implementers of the Connection interface.
type ConnectionBase struct {
	ctx          context.Context
	cancel       context.CancelFunc
	connectionID string
}

// NewConnectionBase creates a ConnectionBase with a context derived from ctx.
// The context is canceled by Cancel.
func NewConnectionBase(ctx context.Context, connectionID string) *ConnectionBase {
	cb := &ConnectionBase{connectionID: connectionID}
	cb.ctx, cb.cancel = context.WithCancel(ctx)
	return cb
}

// Context returns the context of the connection
func (cb *ConnectionBase) Context() context.Context {
	return cb.ctx
}

// ConnectionID is the ID of the connection.
func (cb *ConnectionBase) ConnectionID() string {
	return cb.connectionID
}

// Cancel cancels the context of the connection
func (cb *ConnectionBase) Cancel() {
	cb.cancel()
}

// ReadWriteWithContext makes a blocking Read or Write cancelable.
// It returns when either doRW has returned or ctx has been canceled.
// On cancellation, unblockRW is called to let doRW return, e.g. by setting a deadline.
// If unblockRW can not unblock doRW, its goroutine leaks until doRW returns.
func ReadWriteWithContext(ctx context.Context, doRW func() (int, error), unblockRW func()) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	resultChan := make(chan rwJobResult, 1)
	go func() {
		n, err := doRW()
		resultChan <- rwJobResult{n: n, err: err}
	}()
	select {
	case <-ctx.Done():
		unblockRW()
		return 0, ctx.Err()
	case r := <-resultChan:
		return r.n, r.err
	}
}

type rwJobResult struct {
	n   int
	err error
}
