package signalr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teivah/onecontext"
)

// serve runs the receive loop on conn until the connection ends.
// It closes conn and returns after the reading goroutine is gone.
// The returned error is the reason why the loop ended.
func (c *client) serve(ctx context.Context, conn Connection, frames *frameReader) error {
	info, dbg := c.prefixLoggers(conn.ConnectionID())
	loopCtx, cancelLoop := onecontext.Merge(ctx, conn.Context())

	frameCh := make(chan []byte)
	errCh := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			frame, err := frames.Next()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case frameCh <- frame:
			case <-loopCtx.Done():
				return
			}
		}
	}()
	var pinging int32
	pingDone := sync.WaitGroup{}
	defer func() {
		cancelLoop()
		_ = conn.Close()
		<-readerDone
		pingDone.Wait()
		_ = dbg.Log(evt, "message loop ended")
	}()

	timeoutWatchdog := time.NewTimer(c.config.TimeoutInterval)
	defer timeoutWatchdog.Stop()
	keepAliveWatchdog := time.NewTicker(c.config.KeepAliveInterval)
	defer keepAliveWatchdog.Stop()

	for {
		select {
		case frame := <-frameCh:
			resetTimer(timeoutWatchdog, c.config.TimeoutInterval)
			if err := c.handleFrame(conn, frame, info, dbg); err != nil {
				return err
			}
		case err := <-errCh:
			_ = info.Log(evt, msgRecv, "error", err, react, "close connection")
			return &TransportError{Err: err}
		case <-timeoutWatchdog.C:
			err := fmt.Errorf("server timeout interval elapsed (%v)", c.config.TimeoutInterval)
			_ = info.Log(evt, "timeout", "error", err, react, "close connection")
			return &TransportError{Err: err}
		case <-keepAliveWatchdog.C:
			// the ping is skipped while the last one is still being written
			if atomic.CompareAndSwapInt32(&pinging, 0, 1) {
				pingDone.Add(1)
				go func() {
					defer pingDone.Done()
					defer atomic.StoreInt32(&pinging, 0)
					_ = c.writeMessage(conn, hubMessage{Type: pingType})
				}()
			}
		case <-loopCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return &TransportError{Err: fmt.Errorf("connection closed: %w", conn.Context().Err())}
		}
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

// handleFrame processes one frame. Malformed frames and unknown message types are dropped,
// only a close message from the server ends the loop.
func (c *client) handleFrame(conn Connection, frame []byte, info, dbg StructuredLogger) error {
	message, err := c.protocol.ParseMessage(frame)
	if err != nil {
		_ = info.Log(evt, msgRecv, "error", err, react, "drop frame")
		return nil
	}
	switch message := message.(type) {
	case invocationMessage:
		c.handleInvocationMessage(conn, message, info, dbg)
	case completionMessage:
		c.handleCompletionMessage(message, info, dbg)
	case closeMessage:
		_ = dbg.Log(evt, msgRecv, msg, fmtMsg(message))
		return &ServerCloseError{Message: message.Error, AllowReconnect: message.AllowReconnect}
	case hubMessage:
		if message.Type == pingType {
			_ = dbg.Log(evt, msgRecv, msg, fmtMsg(message))
		} else {
			_ = info.Log(evt, msgRecv, "error", fmt.Sprintf("unsupported message type %v", message.Type), react, "ignore")
		}
	}
	return nil
}

func (c *client) handleInvocationMessage(conn Connection, invocation invocationMessage, info, dbg StructuredLogger) {
	_ = dbg.Log(evt, msgRecv, msg, fmtMsg(invocation))
	handler, ok := c.callbacks.lookup(invocation.Target)
	if !ok {
		_ = info.Log(evt, "lookup handler", "error", "missing handler", "name", invocation.Target, react, "drop frame")
		c.sendCompletion(conn, invocation, nil, "Client didn't provide a result.", info)
		return
	}
	in, err := buildMethodArguments(handler, invocation.Target, invocation.Arguments, c.protocol)
	if err != nil {
		_ = info.Log(evt, "buildMethodArguments", "error", err, "name", invocation.Target, react, "drop frame")
		c.sendCompletion(conn, invocation, nil, err.Error(), info)
		return
	}
	c.dispatcher.Dispatch(func() {
		result, err := callMethod(handler, invocation.Target, in)
		if err != nil {
			_ = info.Log(evt, "handler", "error", err, "name", invocation.Target)
			c.sendCompletion(conn, invocation, nil, err.Error(), info)
			return
		}
		c.sendCompletion(conn, invocation, result, "", info)
	})
}

// sendCompletion answers invocations which expect a client result. Invocations without id are not answered.
func (c *client) sendCompletion(conn Connection, invocation invocationMessage, result interface{}, errText string, info StructuredLogger) {
	if invocation.InvocationID == "" {
		return
	}
	sendMessageAndLog(func() (interface{}, error) {
		completion := completionMessage{
			Type:         completionType,
			InvocationID: invocation.InvocationID,
			Result:       result,
			Error:        errText,
		}
		err := c.writeMessage(conn, completion)
		var protocolErr *ProtocolError
		if errors.As(err, &protocolErr) && completion.Result != nil {
			// the result can not be encoded, the server gets the error instead
			completion.Result = nil
			completion.Error = fmt.Sprintf("Client result of %v can not be encoded: %v", invocation.Target, protocolErr.Err)
			err = c.writeMessage(conn, completion)
		}
		return completion, err
	}, info)
}

func (c *client) handleCompletionMessage(message completionMessage, info, dbg StructuredLogger) {
	_ = dbg.Log(evt, msgRecv, msg, fmtMsg(message))
	c.mx.Lock()
	p, ok := c.invokeClient.take(message.InvocationID)
	c.mx.Unlock()
	if !ok {
		_ = info.Log(evt, msgRecv, "error", fmt.Sprintf("unknown invocation id %q", message.InvocationID), react, "drop frame")
		return
	}
	result := InvokeResult{}
	switch {
	case message.Error != "":
		result.Error = &InvocationError{InvocationID: p.id, Method: p.method, Message: message.Error}
	case message.Result != nil:
		var value interface{}
		if err := c.protocol.UnmarshalArgument(message.Result, &value); err != nil {
			result.Error = err
		} else {
			result.Value = value
		}
	}
	p.complete(c.dispatcher, result)
}

func sendMessageAndLog(connFunc func() (interface{}, error), info StructuredLogger) {
	if msg, err := connFunc(); err != nil {
		_ = info.Log(evt, msgSend, "message", fmtMsg(msg), "error", err)
	}
}

func fmtMsg(msg interface{}) string {
	return fmt.Sprintf("%v", msg)
}
