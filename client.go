package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
)

// Client is the signalR hub connection used on the client side.
//
//	Start() error
//
// Start starts connecting to the server in the background. Start can only be called once.
// The result of the connection attempt is reported to the Observers and by State.
//
//	Stop() error
//
// Stop closes the connection, fails all pending invocations with ErrConnectionClosed
// and returns when the transport is released. The Client ends in ClientClosed.
//
//	State() ClientState
//
// State returns the current lifecycle state.
//
//	ConnectionID() string
//
// ConnectionID returns the id of the current or last connection.
//
//	Err() error
//
// Err returns the error which caused the last state change, e.g. the reason why the Client ended in ClientError.
//
//	On(method string, handler interface{}) error
//
// On registers a func which is called when the server invokes method.
// The arguments of the invocation are unmarshalled into the parameter types of handler.
//
//	Off(method string)
//
// Off removes the handler for method.
//
//	Invoke(method string, arguments ...interface{}) <-chan InvokeResult
//
// Invoke invokes a method on the server and returns a channel which will return the InvokeResult.
//
//	InvokeWithCompletion(method string, arguments []interface{}, completion func(InvokeResult))
//
// InvokeWithCompletion invokes a method on the server. completion is called exactly once by the Dispatcher.
//
//	Send(method string, arguments ...interface{}) <-chan error
//
// Send invokes a method on the server but does not wait for a result, only for the client side error
// which might occur while sending.
//
//	AddObserver(observer Observer) (remove func())
//
// AddObserver registers observer. Calling remove unregisters it.
//
//	PushStateChanged(ch chan<- struct{})
//
// PushStateChanged registers a channel which is signaled on each state change.
// The signal is sent non-blocking, so ch should be buffered.
//
//	RemoveStateChanged(ch chan<- struct{})
//
// RemoveStateChanged unregisters ch.
type Client interface {
	Start() error
	Stop() error
	State() ClientState
	ConnectionID() string
	Err() error
	On(method string, handler interface{}) error
	Off(method string)
	Invoke(method string, arguments ...interface{}) <-chan InvokeResult
	InvokeWithCompletion(method string, arguments []interface{}, completion func(InvokeResult))
	Send(method string, arguments ...interface{}) <-chan error
	AddObserver(observer Observer) (remove func())
	PushStateChanged(ch chan<- struct{})
	RemoveStateChanged(ch chan<- struct{})
}

// NewClient builds a new Client for the hub at address.
// address must be an absolute http, https, ws or wss URL. ws and wss are treated like http and https.
// The client does not connect until Start is called. When ctx is canceled, the connection is closed.
func NewClient(ctx context.Context, address string, options ...Option) (Client, error) {
	config := defaultConfig()
	for _, option := range options {
		if option != nil {
			if err := option(&config); err != nil {
				return nil, err
			}
		}
	}
	hubURL, err := parseHubURL(address)
	if err != nil {
		return nil, err
	}
	info, dbg := buildInfoDebugLogger(config.Logger, config.LogLevel)
	c := &client{
		ctx:          ctx,
		config:       config,
		address:      hubURL,
		info:         log.WithPrefix(info, "ts", log.DefaultTimestampUTC, "class", "Client", "hub", hubURL),
		dbg:          log.WithPrefix(dbg, "ts", log.DefaultTimestampUTC, "class", "Client", "hub", hubURL),
		state:        ClientCreated,
		invokeClient: newInvokeClient(),
		callbacks:    newCallbackRegistry(config.Receiver),
	}
	c.protocol = newJSONHubProtocol(c.dbg)
	if config.Dispatcher != nil {
		c.dispatcher = config.Dispatcher
	} else {
		c.ownDispatcher = NewSerialDispatcher()
		c.dispatcher = c.ownDispatcher
	}
	for _, observer := range config.Observers {
		c.observers.add(observer)
	}
	if config.Connector != nil {
		c.connector = config.Connector
	} else {
		c.connector = newNegotiator(hubURL, &c.config, c.info, c.dbg).Connect
	}
	if receiver, ok := config.Receiver.(ReceiverInterface); ok {
		receiver.Init(c)
	}
	return c, nil
}

func parseHubURL(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q in %v", ErrInvalidURL, u.Scheme, address)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %v", ErrInvalidURL, address)
	}
	return u.String(), nil
}

type client struct {
	ctx       context.Context
	config    Config
	address   string
	info      StructuredLogger
	dbg       StructuredLogger
	protocol  hubProtocol
	connector func(ctx context.Context) (Connection, error)

	dispatcher    Dispatcher
	ownDispatcher *SerialDispatcher
	callbacks     *callbackRegistry
	observers     observerList

	// mx guards the fields below, including the pending invocations
	mx               sync.Mutex
	state            ClientState
	conn             Connection
	connectionID     string
	lastErr          error
	stopping         bool
	cancelRun        context.CancelFunc
	runDone          chan struct{}
	invokeClient     invokeClient
	stateChangeChans []chan<- struct{}

	writeMx sync.Mutex
}

func (c *client) Start() error {
	c.mx.Lock()
	if c.state != ClientCreated {
		state := c.state
		c.mx.Unlock()
		return fmt.Errorf("client can not be started in state %v", state)
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelRun = cancel
	c.runDone = make(chan struct{})
	done := c.runDone
	c.setStateLocked(ClientConnecting, nil)
	c.mx.Unlock()

	go c.run(ctx, cancel, done)
	return nil
}

func (c *client) Stop() error {
	c.mx.Lock()
	if c.state.terminal() || c.stopping {
		c.mx.Unlock()
		return nil
	}
	c.stopping = true
	conn := c.conn
	cancel := c.cancelRun
	done := c.runDone
	c.mx.Unlock()

	if conn != nil {
		// a stalled transport must not block Stop
		stalled := time.AfterFunc(c.config.CloseTimeout, func() {
			_ = c.info.Log(evt, msgSend, "error", "close message not written in time", react, "close connection")
			_ = conn.Close()
		})
		_ = c.writeMessage(conn, closeMessage{Type: closeType})
		stalled.Stop()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	c.finish(ClientClosed, nil, func(o Observer) { o.OnClose(nil) })
	return nil
}

func (c *client) State() ClientState {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

func (c *client) ConnectionID() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.connectionID
}

func (c *client) Err() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.lastErr
}

func (c *client) On(method string, handler interface{}) error {
	return c.callbacks.on(method, handler)
}

func (c *client) Off(method string) {
	c.callbacks.off(method)
}

func (c *client) AddObserver(observer Observer) (remove func()) {
	if observer == nil {
		return func() {}
	}
	return c.observers.add(observer)
}

func (c *client) PushStateChanged(ch chan<- struct{}) {
	c.mx.Lock()
	c.stateChangeChans = append(c.stateChangeChans, ch)
	c.mx.Unlock()
}

func (c *client) RemoveStateChanged(ch chan<- struct{}) {
	c.mx.Lock()
	defer c.mx.Unlock()
	for i, cch := range c.stateChangeChans {
		if cch == ch {
			c.stateChangeChans = append(c.stateChangeChans[:i:i], c.stateChangeChans[i+1:]...)
			return
		}
	}
}

func (c *client) Invoke(method string, arguments ...interface{}) <-chan InvokeResult {
	ch := make(chan InvokeResult, 1)
	c.InvokeWithCompletion(method, arguments, func(result InvokeResult) {
		ch <- result
		close(ch)
	})
	return ch
}

func (c *client) InvokeWithCompletion(method string, arguments []interface{}, completion func(InvokeResult)) {
	if completion == nil {
		completion = func(InvokeResult) {}
	}
	if arguments == nil {
		arguments = make([]interface{}, 0)
	}
	c.mx.Lock()
	if c.state != ClientConnected {
		c.mx.Unlock()
		c.dispatcher.Dispatch(func() { completion(InvokeResult{Error: ErrNotConnected}) })
		return
	}
	p := c.invokeClient.newInvocation(method, completion)
	if c.config.InvocationTimeout > 0 {
		id, timeout := p.id, c.config.InvocationTimeout
		p.timer = time.AfterFunc(timeout, func() {
			if c.completeInvocation(id, InvokeResult{Error: ErrInvocationTimeout}) {
				_ = c.info.Log(evt, "invocation timeout", "id", id, "method", method,
					"arguments", fmtMsg(arguments), "timeout", timeout)
			}
		})
	}
	conn := c.conn
	c.mx.Unlock()

	if err := c.writeMessage(conn, invocationMessage{
		Type:         invocationType,
		Target:       method,
		InvocationID: p.id,
		Arguments:    arguments,
	}); err != nil {
		c.completeInvocation(p.id, InvokeResult{Error: writeError(err)})
	}
}

func (c *client) Send(method string, arguments ...interface{}) <-chan error {
	errCh := make(chan error, 1)
	defer close(errCh)
	if arguments == nil {
		arguments = make([]interface{}, 0)
	}
	c.mx.Lock()
	state, conn := c.state, c.conn
	c.mx.Unlock()
	if state != ClientConnected {
		errCh <- ErrNotConnected
		return errCh
	}
	if err := c.writeMessage(conn, invocationMessage{
		Type:      invocationType,
		Target:    method,
		Arguments: arguments,
	}); err != nil {
		errCh <- writeError(err)
	}
	return errCh
}

// completeInvocation completes the invocation with id if it is still pending
func (c *client) completeInvocation(id string, result InvokeResult) bool {
	c.mx.Lock()
	p, ok := c.invokeClient.take(id)
	c.mx.Unlock()
	if ok {
		p.complete(c.dispatcher, result)
	}
	return ok
}

// writeMessage serializes the writes to conn. When writing fails, conn is closed
// and the receive loop ends with a TransportError. A message which can not be encoded
// is not written and leaves conn open.
func (c *client) writeMessage(conn Connection, message interface{}) error {
	c.writeMx.Lock()
	err := c.protocol.WriteMessage(message, conn)
	c.writeMx.Unlock()
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		_ = c.info.Log(evt, msgSend, msg, fmtMsg(message), "error", err, react, "drop message")
		return err
	}
	if err != nil {
		_ = c.info.Log(evt, msgSend, msg, fmtMsg(message), "error", err, react, "close connection")
		_ = conn.Close()
		return err
	}
	_ = c.dbg.Log(evt, msgSend, msg, fmtMsg(message))
	return nil
}

// writeError is the error reported to the caller of a failed write
func writeError(err error) error {
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		return err
	}
	return &TransportError{Err: err}
}

// run is the supervisor of the connection. It connects, serves the connection
// and reconnects until the client is stopped or gives up.
func (c *client) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	conn, frames, err := c.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.finishCanceled()
			return
		}
		_ = c.info.Log(evt, "connect", "error", err, react, "fail")
		cause := err
		c.finish(ClientError, cause, func(o Observer) { o.OnFailedToOpen(cause) })
		return
	}
	if !c.setConnected(conn, ClientConnecting) {
		_ = conn.Close()
		return
	}
	connectionID := conn.ConnectionID()
	c.notify(func(o Observer) { o.OnOpen(connectionID) })

	for {
		err = c.serve(ctx, conn, frames)
		if ctx.Err() != nil {
			c.finishCanceled()
			return
		}
		var closeErr *ServerCloseError
		serverClosed := errors.As(err, &closeErr)
		if !c.config.AutoReconnect || (serverClosed && !closeErr.AllowReconnect) {
			cause := err
			if serverClosed && closeErr.Message == "" {
				cause = nil
			}
			c.finish(ClientClosed, cause, func(o Observer) { o.OnClose(cause) })
			return
		}
		if !c.transition(ClientConnected, ClientReconnecting, err) {
			return
		}
		_ = c.info.Log(evt, "connection lost", "error", err, react, "reconnect")
		lost := err
		c.notify(func(o Observer) { o.OnReconnecting(lost) })

		conn, frames, err = c.reconnect(ctx, err)
		if err != nil {
			if ctx.Err() != nil {
				c.finishCanceled()
				return
			}
			_ = c.info.Log(evt, "reconnect", "error", err, react, "give up")
			cause := err
			c.finish(ClientError, cause, func(o Observer) { o.OnClose(cause) })
			return
		}
		if !c.setConnected(conn, ClientReconnecting) {
			_ = conn.Close()
			return
		}
		reconnectedID := conn.ConnectionID()
		c.notify(func(o Observer) { o.OnReconnected(reconnectedID) })
	}
}

// connect opens a new Connection and processes the handshake on it.
func (c *client) connect(ctx context.Context) (Connection, *frameReader, error) {
	conn, err := c.connector(ctx)
	if err != nil {
		var negotiationErr *NegotiationError
		if !errors.As(err, &negotiationErr) && ctx.Err() == nil {
			err = &NegotiationError{URL: c.address, Err: err}
		}
		return nil, nil, err
	}
	frames := newFrameReader(conn, 1<<15, c.config.MaximumReceiveMessageSize)
	if err := c.processHandshake(ctx, conn, frames); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, frames, nil
}

func (c *client) processHandshake(ctx context.Context, conn Connection, frames *frameReader) error {
	info, dbg := c.prefixLoggers(conn.ConnectionID())
	request, err := json.Marshal(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return err
	}
	request = append(request, recordSeparator)
	if _, err := conn.Write(request); err != nil {
		_ = info.Log(evt, "handshake sent", msg, string(request), "error", err)
		return &NegotiationError{URL: c.address, Err: err}
	}
	_ = dbg.Log(evt, "handshake sent", msg, string(request))

	type readResult struct {
		frame []byte
		err   error
	}
	readCh := make(chan readResult, 1)
	go func() {
		frame, err := frames.Next()
		readCh <- readResult{frame: frame, err: err}
	}()
	timer := time.NewTimer(c.config.HandshakeTimeout)
	defer timer.Stop()
	var result readResult
	select {
	case result = <-readCh:
	case <-timer.C:
		_ = info.Log(evt, "handshake received", "error", "timeout", react, "close connection")
		return &NegotiationError{URL: c.address, Err: fmt.Errorf("%w: no response within %v", ErrHandshake, c.config.HandshakeTimeout)}
	case <-ctx.Done():
		return ctx.Err()
	}
	if result.err != nil {
		_ = info.Log(evt, "handshake received", "error", result.err, react, "close connection")
		return &NegotiationError{URL: c.address, Err: fmt.Errorf("%w: %v", ErrHandshake, result.err)}
	}
	response := handshakeResponse{}
	if err := json.Unmarshal(result.frame, &response); err != nil {
		_ = info.Log(evt, "handshake received", msg, string(result.frame), "error", err)
		return &NegotiationError{URL: c.address, Err: &ProtocolError{Frame: string(result.frame), Err: err}}
	}
	if response.Error != "" {
		_ = info.Log(evt, "handshake received", "error", response.Error)
		return &NegotiationError{URL: c.address, Err: fmt.Errorf("%w: %v", ErrHandshake, response.Error)}
	}
	_ = dbg.Log(evt, "handshake received", msg, fmtMsg(response))
	return nil
}

func (c *client) setConnected(conn Connection, from ClientState) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.state != from || c.stopping {
		return false
	}
	c.conn = conn
	c.connectionID = conn.ConnectionID()
	c.setStateLocked(ClientConnected, nil)
	return true
}

func (c *client) transition(from, to ClientState, err error) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.state != from || c.stopping {
		return false
	}
	c.conn = nil
	c.setStateLocked(to, err)
	return true
}

// finish moves the client into the terminal state, fails the pending invocations and notifies the observers.
// Only the first call has an effect.
func (c *client) finish(state ClientState, err error, notify func(Observer)) bool {
	c.mx.Lock()
	if c.state.terminal() {
		c.mx.Unlock()
		return false
	}
	c.conn = nil
	c.setStateLocked(state, err)
	pending := c.invokeClient.takeAll()
	c.mx.Unlock()

	closedErr := ErrConnectionClosed
	if err != nil {
		closedErr = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	for _, p := range pending {
		p.complete(c.dispatcher, InvokeResult{Error: closedErr})
	}
	c.notify(notify)
	if c.ownDispatcher != nil {
		c.ownDispatcher.Close()
	}
	return true
}

// finishCanceled ends the client when the run context was canceled.
// When Stop canceled it, Stop finishes the client.
func (c *client) finishCanceled() {
	c.mx.Lock()
	stopping := c.stopping
	c.mx.Unlock()
	if stopping {
		return
	}
	cause := c.ctx.Err()
	c.finish(ClientClosed, cause, func(o Observer) { o.OnClose(cause) })
}

func (c *client) setStateLocked(state ClientState, err error) {
	c.state = state
	c.lastErr = err
	_ = c.dbg.Log(evt, "state changed", "state", state)
	for _, ch := range c.stateChangeChans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// notify calls f for each observer registered at the time of the event
func (c *client) notify(f func(Observer)) {
	observers := c.observers.snapshot()
	if len(observers) == 0 {
		return
	}
	c.dispatcher.Dispatch(func() {
		for _, o := range observers {
			f(o)
		}
	})
}

func (c *client) prefixLoggers(connectionID string) (info StructuredLogger, dbg StructuredLogger) {
	return log.WithPrefix(c.info, "connection", connectionID),
		log.WithPrefix(c.dbg, "connection", connectionID)
}
