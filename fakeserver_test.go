package signalr

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// fakeServer is the server end of a net.Pipe. It answers the handshake
// and collects all frames except pings.
type fakeServer struct {
	conn      net.Conn
	frames    *frameReader
	handshake chan map[string]interface{}
	received  chan map[string]interface{}
	pings     int32
	// stall stops reading after the handshake, writes of the client block
	stall bool
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{
		conn:      conn,
		frames:    newFrameReader(conn, 1<<12, 1<<20),
		handshake: make(chan map[string]interface{}, 1),
		received:  make(chan map[string]interface{}, 100),
	}
}

// run answers the handshake with handshakeResponse. An empty response lets the handshake time out.
func (s *fakeServer) run(handshakeResponse string) {
	defer close(s.received)
	frame, err := s.frames.Next()
	if err != nil {
		return
	}
	request := make(map[string]interface{})
	_ = json.Unmarshal(frame, &request)
	s.handshake <- request
	if handshakeResponse != "" {
		if err := s.send(handshakeResponse); err != nil {
			return
		}
	}
	if s.stall {
		return
	}
	for {
		frame, err := s.frames.Next()
		if err != nil {
			return
		}
		message := make(map[string]interface{})
		if err := json.Unmarshal(frame, &message); err != nil {
			continue
		}
		if message["type"] == float64(pingType) {
			atomic.AddInt32(&s.pings, 1)
			continue
		}
		s.received <- message
	}
}

func (s *fakeServer) send(frame string) error {
	_, err := s.conn.Write(append([]byte(frame), recordSeparator))
	return err
}

func (s *fakeServer) pingCount() int32 {
	return atomic.LoadInt32(&s.pings)
}

// drop closes the server end, the client sees a transport error
func (s *fakeServer) drop() {
	_ = s.conn.Close()
}

// nextMessage waits for the next frame the client sent
func (s *fakeServer) nextMessage(timeout time.Duration) (map[string]interface{}, bool) {
	select {
	case message, ok := <-s.received:
		return message, ok
	case <-time.After(timeout):
		return nil, false
	}
}

// fakeHub is the Connector for a client under test. Each connect creates a new fakeServer.
type fakeHub struct {
	servers chan *fakeServer

	mx                sync.Mutex
	handshakeResponse string
	failure           error
	stall             bool
	connects          int
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		servers:           make(chan *fakeServer, 20),
		handshakeResponse: "{}",
	}
}

func (h *fakeHub) connect(ctx context.Context) (Connection, error) {
	h.mx.Lock()
	h.connects++
	failure := h.failure
	handshakeResponse := h.handshakeResponse
	stall := h.stall
	h.mx.Unlock()
	if failure != nil {
		return nil, failure
	}
	cliConn, srvConn := net.Pipe()
	server := newFakeServer(srvConn)
	server.stall = stall
	go server.run(handshakeResponse)
	h.servers <- server
	return NewNetConnection(ctx, cliConn), nil
}

func (h *fakeHub) setFailure(err error) {
	h.mx.Lock()
	h.failure = err
	h.mx.Unlock()
}

func (h *fakeHub) setHandshakeResponse(response string) {
	h.mx.Lock()
	h.handshakeResponse = response
	h.mx.Unlock()
}

func (h *fakeHub) setStall(stall bool) {
	h.mx.Lock()
	h.stall = stall
	h.mx.Unlock()
}

func (h *fakeHub) connectCount() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.connects
}

func (h *fakeHub) nextServer(timeout time.Duration) *fakeServer {
	select {
	case server := <-h.servers:
		return server
	case <-time.After(timeout):
		return nil
	}
}

// observerEvent is one call of an Observer method
type observerEvent struct {
	name         string
	connectionID string
	err          error
}

type recordingObserver struct {
	mx     sync.Mutex
	events []observerEvent
}

func (r *recordingObserver) record(event observerEvent) {
	r.mx.Lock()
	r.events = append(r.events, event)
	r.mx.Unlock()
}

func (r *recordingObserver) OnOpen(connectionID string) {
	r.record(observerEvent{name: "open", connectionID: connectionID})
}

func (r *recordingObserver) OnFailedToOpen(err error) {
	r.record(observerEvent{name: "failedToOpen", err: err})
}

func (r *recordingObserver) OnClose(err error) {
	r.record(observerEvent{name: "close", err: err})
}

func (r *recordingObserver) OnReconnecting(err error) {
	r.record(observerEvent{name: "reconnecting", err: err})
}

func (r *recordingObserver) OnReconnected(connectionID string) {
	r.record(observerEvent{name: "reconnected", connectionID: connectionID})
}

func (r *recordingObserver) names() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.name
	}
	return names
}

func (r *recordingObserver) last() observerEvent {
	r.mx.Lock()
	defer r.mx.Unlock()
	if len(r.events) == 0 {
		return observerEvent{}
	}
	return r.events[len(r.events)-1]
}
