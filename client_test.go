package signalr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func fastBackoff(retries uint64) Option {
	return WithBackoff(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), retries)
	})
}

func newTestClient(ctx context.Context, hub *fakeHub, observer Observer, options ...Option) Client {
	opts := append([]Option{testLoggerOption(), WithConnector(hub.connect), WithObserver(observer)}, options...)
	client, err := NewClient(ctx, "http://localhost/chat", opts...)
	Expect(err).NotTo(HaveOccurred())
	return client
}

func waitForState(client Client, state ClientState) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return <-WaitForClientState(ctx, client, state)
}

func startTestClient(hub *fakeHub, observer Observer, options ...Option) (Client, *fakeServer) {
	client := newTestClient(context.Background(), hub, observer, options...)
	Expect(client.Start()).To(Succeed())
	Expect(waitForState(client, ClientConnected)).To(Succeed())
	server := hub.nextServer(time.Second)
	Expect(server).NotTo(BeNil())
	return client, server
}

func pendingInvocations(cl Client) int {
	c := cl.(*client)
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.invokeClient.len()
}

type chatReceiver struct {
	Receiver
	messages chan string
}

func (r *chatReceiver) NewMessage(name, message string) {
	r.messages <- fmt.Sprintf("%v: %v", name, message)
}

var _ = Describe("Client", func() {

	Context("NewClient", func() {
		It("should reject addresses which are no hub urls", func() {
			for _, address := range []string{"ftp://localhost/chat", "http:///chat", "://nothing"} {
				_, err := NewClient(context.Background(), address, testLoggerOption())
				Expect(err).To(MatchError(ErrInvalidURL), address)
			}
		})
		It("should accept websocket urls", func() {
			client, err := NewClient(context.Background(), "wss://localhost/chat", testLoggerOption())
			Expect(err).NotTo(HaveOccurred())
			Expect(client.State()).To(Equal(ClientCreated))
		})
		It("should return the error of a failing option", func() {
			_, err := NewClient(context.Background(), "http://localhost/chat", TimeoutInterval(0))
			Expect(err).To(HaveOccurred())
		})
	})

	Context("Start/Stop", func() {
		It("should connect, report the connection and stop without error", func() {
			hub := newFakeHub()
			observer := &recordingObserver{}
			client, server := startTestClient(hub, observer)
			Eventually(server.handshake).Should(Receive(Equal(map[string]interface{}{
				"protocol": "json",
				"version":  float64(1),
			})))
			Eventually(observer.names).Should(Equal([]string{"open"}))
			Expect(observer.last().connectionID).To(Equal(client.ConnectionID()))
			Expect(client.Stop()).To(Succeed())
			Expect(client.State()).To(Equal(ClientClosed))
			Expect(client.Err()).To(BeNil())
			message, ok := server.nextMessage(time.Second)
			Expect(ok).To(BeTrue())
			Expect(message["type"]).To(Equal(float64(closeType)))
			Eventually(observer.names).Should(Equal([]string{"open", "close"}))
			Expect(observer.last().err).To(BeNil())
		})
		It("should not start twice", func() {
			client, _ := startTestClient(newFakeHub(), &recordingObserver{})
			Expect(client.Start()).NotTo(Succeed())
			Expect(client.Stop()).To(Succeed())
			Expect(client.Start()).NotTo(Succeed())
		})
		It("should allow Stop on a client which was never started", func() {
			observer := &recordingObserver{}
			client := newTestClient(context.Background(), newFakeHub(), observer)
			Expect(client.Stop()).To(Succeed())
			Expect(client.Stop()).To(Succeed())
			Expect(client.State()).To(Equal(ClientClosed))
			Eventually(observer.names).Should(Equal([]string{"close"}))
		})
		It("should end in ClientError when the connector fails", func() {
			hub := newFakeHub()
			hub.setFailure(errors.New("connection refused"))
			observer := &recordingObserver{}
			client := newTestClient(context.Background(), hub, observer, WithAutoReconnect())
			Expect(client.Start()).To(Succeed())
			Expect(waitForState(client, ClientConnected)).NotTo(Succeed())
			Expect(client.State()).To(Equal(ClientError))
			var negotiationErr *NegotiationError
			Expect(errors.As(client.Err(), &negotiationErr)).To(BeTrue())
			Eventually(observer.names).Should(Equal([]string{"failedToOpen"}))
			// No retry on the initial connect
			Consistently(hub.connectCount, 100*time.Millisecond).Should(Equal(1))
		})
		It("should end in ClientError when the server rejects the handshake", func() {
			hub := newFakeHub()
			hub.setHandshakeResponse(`{"error":"Requested protocol 'json' is not available."}`)
			observer := &recordingObserver{}
			client := newTestClient(context.Background(), hub, observer)
			Expect(client.Start()).To(Succeed())
			Expect(waitForState(client, ClientError)).To(Succeed())
			Expect(client.Err()).To(MatchError(ErrHandshake))
			Eventually(observer.names).Should(Equal([]string{"failedToOpen"}))
		})
		It("should end in ClientError when the handshake times out", func() {
			hub := newFakeHub()
			hub.setHandshakeResponse("")
			client := newTestClient(context.Background(), hub, &recordingObserver{}, HandshakeTimeout(50*time.Millisecond))
			Expect(client.Start()).To(Succeed())
			Expect(waitForState(client, ClientError)).To(Succeed())
			Expect(client.Err()).To(MatchError(ErrHandshake))
		})
		It("should close when the parent context is canceled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			hub := newFakeHub()
			observer := &recordingObserver{}
			client := newTestClient(ctx, hub, observer, WithAutoReconnect())
			Expect(client.Start()).To(Succeed())
			Expect(waitForState(client, ClientConnected)).To(Succeed())
			cancel()
			Expect(waitForState(client, ClientClosed)).To(Succeed())
			Expect(client.Err()).To(MatchError(context.Canceled))
			Eventually(observer.names).Should(Equal([]string{"open", "close"}))
		})
	})

	Context("On", func() {
		It("should call the handler with the arguments sent by the server", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			received := make(chan []string, 1)
			Expect(client.On("NewMessage", func(name, message string) {
				received <- []string{name, message}
			})).To(Succeed())
			Expect(server.send(`{"type":1,"target":"NewMessage","arguments":["alice","hi"]}`)).To(Succeed())
			Eventually(received).Should(Receive(Equal([]string{"alice", "hi"})))
		})
		It("should drop unknown, malformed and mismatching invocations and keep the connection", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			received := make(chan []string, 2)
			Expect(client.On("NewMessage", func(name, message string) {
				received <- []string{name, message}
			})).To(Succeed())
			Expect(server.send(`{"type":1,"target":"Unknown","arguments":[]}`)).To(Succeed())
			Expect(server.send(`{"type":1,"target":`)).To(Succeed())
			Expect(server.send(`{"type":1,"target":"NewMessage","arguments":["alice"]}`)).To(Succeed())
			Expect(server.send(`{"type":1,"target":"NewMessage","arguments":[1,2]}`)).To(Succeed())
			Expect(server.send(`{"type":42}`)).To(Succeed())
			Expect(server.send(`{"type":1,"target":"NewMessage","arguments":["bob","still here"]}`)).To(Succeed())
			Eventually(received).Should(Receive(Equal([]string{"bob", "still here"})))
			Consistently(received, 100*time.Millisecond).ShouldNot(Receive())
			Expect(client.State()).To(Equal(ClientConnected))
		})
		It("should only call the last handler registered for a method", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			first := make(chan string, 1)
			second := make(chan string, 1)
			Expect(client.On("NewMessage", func(name, message string) { first <- message })).To(Succeed())
			Expect(client.On("NewMessage", func(name, message string) { second <- message })).To(Succeed())
			Expect(server.send(`{"type":1,"target":"NewMessage","arguments":["alice","hi"]}`)).To(Succeed())
			Eventually(second).Should(Receive(Equal("hi")))
			Consistently(first, 100*time.Millisecond).ShouldNot(Receive())
		})
		It("should not call a handler after Off", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			received := make(chan string, 2)
			Expect(client.On("NewMessage", func(name, message string) { received <- message })).To(Succeed())
			client.Off("NewMessage")
			Expect(server.send(`{"type":1,"target":"NewMessage","arguments":["alice","hi"]}`)).To(Succeed())
			Consistently(received, 100*time.Millisecond).ShouldNot(Receive())
		})
		It("should reject handlers which are no funcs", func() {
			client := newTestClient(context.Background(), newFakeHub(), &recordingObserver{})
			Expect(client.On("NewMessage", "no func")).NotTo(Succeed())
			Expect(client.On("", func() {})).NotTo(Succeed())
		})
		It("should send the handler result when the server expects one", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			Expect(client.On("GetName", func() string { return "bob" })).To(Succeed())
			Expect(client.On("Fail", func() error { return errors.New("not today") })).To(Succeed())
			Expect(server.send(`{"type":1,"target":"GetName","invocationId":"s1","arguments":[]}`)).To(Succeed())
			message, ok := server.nextMessage(time.Second)
			Expect(ok).To(BeTrue())
			Expect(message).To(Equal(map[string]interface{}{
				"type":         float64(completionType),
				"invocationId": "s1",
				"result":       "bob",
			}))
			Expect(server.send(`{"type":1,"target":"Fail","invocationId":"s2","arguments":[]}`)).To(Succeed())
			message, ok = server.nextMessage(time.Second)
			Expect(ok).To(BeTrue())
			Expect(message["invocationId"]).To(Equal("s2"))
			Expect(message["error"]).To(Equal("not today"))
		})
		It("should send an error when the handler result can not be encoded", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			Expect(client.On("GetRatio", func() float64 { return math.NaN() })).To(Succeed())
			Expect(server.send(`{"type":1,"target":"GetRatio","invocationId":"s3","arguments":[]}`)).To(Succeed())
			message, ok := server.nextMessage(time.Second)
			Expect(ok).To(BeTrue())
			Expect(message["invocationId"]).To(Equal("s3"))
			Expect(message).NotTo(HaveKey("result"))
			Expect(message["error"]).To(ContainSubstring("can not be encoded"))
			Expect(client.State()).To(Equal(ClientConnected))
		})
		It("should survive a panicking handler", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			received := make(chan string, 1)
			Expect(client.On("Panic", func() { panic("handler panic") })).To(Succeed())
			Expect(client.On("NewMessage", func(name, message string) { received <- message })).To(Succeed())
			Expect(server.send(`{"type":1,"target":"Panic","arguments":[]}`)).To(Succeed())
			Expect(server.send(`{"type":1,"target":"NewMessage","arguments":["alice","after panic"]}`)).To(Succeed())
			Eventually(received).Should(Receive(Equal("after panic")))
		})
		It("should call the methods of the receiver", func() {
			hub := newFakeHub()
			receiver := &chatReceiver{messages: make(chan string, 1)}
			client, server := startTestClient(hub, &recordingObserver{}, WithReceiver(receiver))
			defer func() { _ = client.Stop() }()
			Expect(receiver.Server()).To(BeIdenticalTo(client))
			Expect(server.send(`{"type":1,"target":"newmessage","arguments":["alice","hi"]}`)).To(Succeed())
			Eventually(receiver.messages).Should(Receive(Equal("alice: hi")))
		})
	})

	Context("Invoke", func() {
		It("should fail with ErrNotConnected without sending when not connected", func() {
			hub := newFakeHub()
			client := newTestClient(context.Background(), hub, &recordingObserver{})
			var result InvokeResult
			Eventually(client.Invoke("Broadcast", "alice", "hi")).Should(Receive(&result))
			Expect(result.Error).To(MatchError(ErrNotConnected))
			var sendErr error
			Eventually(client.Send("Broadcast", "alice", "hi")).Should(Receive(&sendErr))
			Expect(sendErr).To(MatchError(ErrNotConnected))
			Expect(hub.connectCount()).To(Equal(0))
		})
		It("should send the invocation and deliver the result", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			resultCh := client.Invoke("Broadcast", "alice", "hi")
			message, ok := server.nextMessage(time.Second)
			Expect(ok).To(BeTrue())
			Expect(message["type"]).To(Equal(float64(invocationType)))
			Expect(message["target"]).To(Equal("Broadcast"))
			Expect(message["arguments"]).To(Equal([]interface{}{"alice", "hi"}))
			id, ok := message["invocationId"].(string)
			Expect(ok).To(BeTrue())
			Expect(server.send(fmt.Sprintf(`{"type":3,"invocationId":"%v","result":{"delivered":2}}`, id))).To(Succeed())
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(result.Error).NotTo(HaveOccurred())
			Expect(result.Value).To(Equal(map[string]interface{}{"delivered": float64(2)}))
		})
		It("should deliver a completion without result as nil value", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			resultCh := client.Invoke("Broadcast", "alice", "hi")
			message, _ := server.nextMessage(time.Second)
			Expect(server.send(fmt.Sprintf(`{"type":3,"invocationId":"%v"}`, message["invocationId"]))).To(Succeed())
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(result).To(Equal(InvokeResult{}))
		})
		It("should deliver the server error as InvocationError", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			resultCh := client.Invoke("Broadcast", "alice", "hi")
			message, _ := server.nextMessage(time.Second)
			Expect(server.send(fmt.Sprintf(`{"type":3,"invocationId":"%v","error":"boom"}`, message["invocationId"]))).To(Succeed())
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			var invocationErr *InvocationError
			Expect(errors.As(result.Error, &invocationErr)).To(BeTrue())
			Expect(invocationErr.Method).To(Equal("Broadcast"))
			Expect(invocationErr.Message).To(Equal("boom"))
		})
		It("should complete in the order the completions arrive", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			var mx sync.Mutex
			var order []string
			done := make(chan struct{}, 2)
			for _, method := range []string{"First", "Second"} {
				method := method
				client.InvokeWithCompletion(method, nil, func(result InvokeResult) {
					mx.Lock()
					order = append(order, method)
					mx.Unlock()
					done <- struct{}{}
				})
			}
			first, _ := server.nextMessage(time.Second)
			second, _ := server.nextMessage(time.Second)
			Expect(first["invocationId"]).NotTo(Equal(second["invocationId"]))
			Expect(server.send(fmt.Sprintf(`{"type":3,"invocationId":"%v"}`, second["invocationId"]))).To(Succeed())
			Expect(server.send(fmt.Sprintf(`{"type":3,"invocationId":"%v"}`, first["invocationId"]))).To(Succeed())
			Eventually(done).Should(Receive())
			Eventually(done).Should(Receive())
			mx.Lock()
			defer mx.Unlock()
			Expect(order).To(Equal([]string{"Second", "First"}))
		})
		It("should fail only the invocation whose arguments can not be encoded", func() {
			hub := newFakeHub()
			observer := &recordingObserver{}
			client, server := startTestClient(hub, observer)
			defer func() { _ = client.Stop() }()
			var result InvokeResult
			Eventually(client.Invoke("Broadcast", "alice", math.NaN())).Should(Receive(&result))
			var protocolErr *ProtocolError
			Expect(errors.As(result.Error, &protocolErr)).To(BeTrue())
			Expect(errors.As(<-client.Send("Broadcast", "alice", make(chan int)), &protocolErr)).To(BeTrue())
			Consistently(client.State, 100*time.Millisecond).Should(Equal(ClientConnected))

			resultCh := client.Invoke("Broadcast", "alice", "hi")
			message, ok := server.nextMessage(time.Second)
			Expect(ok).To(BeTrue())
			Expect(message["arguments"]).To(Equal([]interface{}{"alice", "hi"}))
			Expect(server.send(fmt.Sprintf(`{"type":3,"invocationId":"%v","result":"ok"}`, message["invocationId"]))).To(Succeed())
			Eventually(resultCh).Should(Receive(&result))
			Expect(result.Value).To(Equal("ok"))
			Expect(observer.names()).To(Equal([]string{"open"}))
		})
		It("should ignore completions for unknown invocations", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			Expect(server.send(`{"type":3,"invocationId":"4711","result":1}`)).To(Succeed())
			Consistently(client.State, 100*time.Millisecond).Should(Equal(ClientConnected))
		})
		It("should fail all pending invocations with ErrConnectionClosed on Stop", func() {
			hub := newFakeHub()
			observer := &recordingObserver{}
			client, server := startTestClient(hub, observer)
			resultChans := []<-chan InvokeResult{
				client.Invoke("A"),
				client.Invoke("B", 1),
				client.Invoke("C", "x", "y"),
			}
			for range resultChans {
				_, ok := server.nextMessage(time.Second)
				Expect(ok).To(BeTrue())
			}
			Expect(client.Stop()).To(Succeed())
			for _, ch := range resultChans {
				var result InvokeResult
				Eventually(ch).Should(Receive(&result))
				Expect(result.Error).To(MatchError(ErrConnectionClosed))
			}
			Expect(client.State()).To(Equal(ClientClosed))
			Eventually(observer.last).Should(Equal(observerEvent{name: "close"}))
		})
		It("should time out invocations without result", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{}, InvocationTimeout(50*time.Millisecond))
			defer func() { _ = client.Stop() }()
			resultCh := client.Invoke("Broadcast", "alice", "hi")
			message, _ := server.nextMessage(time.Second)
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(result.Error).To(MatchError(ErrInvocationTimeout))
			// The late completion is dropped
			Expect(server.send(fmt.Sprintf(`{"type":3,"invocationId":"%v"}`, message["invocationId"]))).To(Succeed())
			Consistently(client.State, 100*time.Millisecond).Should(Equal(ClientConnected))
		})
		It("should send without invocation id", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{})
			defer func() { _ = client.Stop() }()
			var sendErr error
			Eventually(client.Send("Broadcast", "alice", "hi")).Should(Receive(&sendErr))
			Expect(sendErr).NotTo(HaveOccurred())
			message, ok := server.nextMessage(time.Second)
			Expect(ok).To(BeTrue())
			Expect(message).NotTo(HaveKey("invocationId"))
			Expect(message["target"]).To(Equal("Broadcast"))
		})
	})

	Context("Connection loss", func() {
		It("should close without auto reconnect", func() {
			hub := newFakeHub()
			observer := &recordingObserver{}
			client, server := startTestClient(hub, observer)
			server.drop()
			Expect(waitForState(client, ClientClosed)).To(Succeed())
			var transportErr *TransportError
			Expect(errors.As(client.Err(), &transportErr)).To(BeTrue())
			Eventually(observer.names).Should(Equal([]string{"open", "close"}))
			Expect(observer.last().err).To(HaveOccurred())
		})
		It("should reconnect and keep the pending invocations", func() {
			hub := newFakeHub()
			observer := &recordingObserver{}
			client, server := startTestClient(hub, observer, fastBackoff(5))
			defer func() { _ = client.Stop() }()
			resultCh := client.Invoke("Broadcast", "alice", "hi")
			message, ok := server.nextMessage(time.Second)
			Expect(ok).To(BeTrue())
			firstID := client.ConnectionID()
			server.drop()
			Eventually(observer.names).Should(Equal([]string{"open", "reconnecting", "reconnected"}))
			Expect(client.State()).To(Equal(ClientConnected))
			Expect(client.ConnectionID()).NotTo(Equal(firstID))
			Consistently(resultCh, 50*time.Millisecond).ShouldNot(Receive())
			newServer := hub.nextServer(time.Second)
			Expect(newServer).NotTo(BeNil())
			Expect(newServer.send(fmt.Sprintf(`{"type":3,"invocationId":"%v","result":"ok"}`, message["invocationId"]))).To(Succeed())
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(result.Value).To(Equal("ok"))
		})
		It("should report each drop once and keep the pending invocations over several drops", func() {
			hub := newFakeHub()
			observer := &recordingObserver{}
			client, server := startTestClient(hub, observer, fastBackoff(5))
			defer func() { _ = client.Stop() }()
			resultCh := client.Invoke("Broadcast", "alice", "hi")
			message, ok := server.nextMessage(time.Second)
			Expect(ok).To(BeTrue())

			server.drop()
			Eventually(observer.names).Should(Equal([]string{"open", "reconnecting", "reconnected"}))
			second := hub.nextServer(time.Second)
			Expect(second).NotTo(BeNil())
			Expect(pendingInvocations(client)).To(Equal(1))

			second.drop()
			Eventually(observer.names).Should(Equal([]string{"open", "reconnecting", "reconnected", "reconnecting", "reconnected"}))
			Consistently(observer.names, 100*time.Millisecond).Should(HaveLen(5))
			Expect(pendingInvocations(client)).To(Equal(1))
			Consistently(resultCh, 50*time.Millisecond).ShouldNot(Receive())

			third := hub.nextServer(time.Second)
			Expect(third).NotTo(BeNil())
			Expect(third.send(fmt.Sprintf(`{"type":3,"invocationId":"%v","result":"ok"}`, message["invocationId"]))).To(Succeed())
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(result.Value).To(Equal("ok"))
			Expect(pendingInvocations(client)).To(Equal(0))
		})
		It("should give up when the backoff stops", func() {
			hub := newFakeHub()
			observer := &recordingObserver{}
			client, server := startTestClient(hub, observer, fastBackoff(2))
			resultCh := client.Invoke("Broadcast", "alice", "hi")
			_, _ = server.nextMessage(time.Second)
			hub.setFailure(errors.New("server down"))
			server.drop()
			Expect(waitForState(client, ClientError)).To(Succeed())
			var reconnectErr *ReconnectError
			Expect(errors.As(client.Err(), &reconnectErr)).To(BeTrue())
			Expect(reconnectErr.Attempts).To(Equal(2))
			Expect(hub.connectCount()).To(Equal(3))
			var result InvokeResult
			Eventually(resultCh).Should(Receive(&result))
			Expect(result.Error).To(MatchError(ErrConnectionClosed))
			Eventually(observer.names).Should(Equal([]string{"open", "reconnecting", "close"}))
			Expect(observer.last().err).To(MatchError(reconnectErr))
		})
		It("should stop while reconnecting", func() {
			hub := newFakeHub()
			observer := &recordingObserver{}
			client, server := startTestClient(hub, observer, WithBackoff(func() backoff.BackOff {
				return backoff.NewConstantBackOff(time.Hour)
			}))
			server.drop()
			Expect(waitForState(client, ClientReconnecting)).To(Succeed())
			Expect(client.Stop()).To(Succeed())
			Expect(client.State()).To(Equal(ClientClosed))
			Eventually(observer.names).Should(Equal([]string{"open", "reconnecting", "close"}))
			Expect(observer.last().err).To(BeNil())
		})
		It("should stop when the server does not read anymore", func() {
			hub := newFakeHub()
			hub.setStall(true)
			observer := &recordingObserver{}
			client, _ := startTestClient(hub, observer, CloseTimeout(100*time.Millisecond))
			resultCh := make(chan InvokeResult, 1)
			go func() { resultCh <- <-client.Invoke("Broadcast", "alice", "hi") }()
			Consistently(resultCh, 50*time.Millisecond).ShouldNot(Receive())
			stopped := make(chan error, 1)
			go func() { stopped <- client.Stop() }()
			Eventually(stopped, 2*time.Second).Should(Receive(BeNil()))
			Expect(client.State()).To(Equal(ClientClosed))
			var result InvokeResult
			Eventually(resultCh, 2*time.Second).Should(Receive(&result))
			Expect(result.Error).To(HaveOccurred())
			Eventually(observer.names).Should(Equal([]string{"open", "close"}))
		})
		It("should time out when the server does not read the pings", func() {
			hub := newFakeHub()
			hub.setStall(true)
			client, _ := startTestClient(hub, &recordingObserver{},
				TimeoutInterval(200*time.Millisecond), KeepAliveInterval(20*time.Millisecond))
			Expect(waitForState(client, ClientClosed)).To(Succeed())
			Expect(client.Err()).To(MatchError(ContainSubstring("timeout")))
		})
		It("should close on a server close message with error", func() {
			hub := newFakeHub()
			observer := &recordingObserver{}
			client, server := startTestClient(hub, observer, fastBackoff(5))
			Expect(server.send(`{"type":7,"error":"shutting down"}`)).To(Succeed())
			Expect(waitForState(client, ClientClosed)).To(Succeed())
			var closeErr *ServerCloseError
			Expect(errors.As(client.Err(), &closeErr)).To(BeTrue())
			Expect(closeErr.Message).To(Equal("shutting down"))
			Eventually(observer.names).Should(Equal([]string{"open", "close"}))
		})
		It("should reconnect when the server allows it", func() {
			hub := newFakeHub()
			observer := &recordingObserver{}
			client, server := startTestClient(hub, observer, fastBackoff(5))
			defer func() { _ = client.Stop() }()
			Expect(server.send(`{"type":7,"error":"restart","allowReconnect":true}`)).To(Succeed())
			Eventually(observer.names).Should(Equal([]string{"open", "reconnecting", "reconnected"}))
		})
		It("should close when the server is silent for the timeout interval", func() {
			hub := newFakeHub()
			client, server := startTestClient(hub, &recordingObserver{},
				TimeoutInterval(200*time.Millisecond), KeepAliveInterval(20*time.Millisecond))
			Expect(waitForState(client, ClientClosed)).To(Succeed())
			Expect(client.Err()).To(MatchError(ContainSubstring("timeout")))
			Expect(server.pingCount()).To(BeNumerically(">", 0))
		})
	})

	Context("Observers and Dispatcher", func() {
		It("should not notify removed observers", func() {
			hub := newFakeHub()
			client, _ := startTestClient(hub, &recordingObserver{})
			removed := &recordingObserver{}
			remove := client.AddObserver(removed)
			remove()
			remove()
			Expect(client.Stop()).To(Succeed())
			Consistently(removed.names, 100*time.Millisecond).Should(BeEmpty())
		})
		It("should run all callbacks in the given dispatcher", func() {
			hub := newFakeHub()
			var mx sync.Mutex
			dispatched := 0
			dispatcher := DispatcherFunc(func(f func()) {
				mx.Lock()
				dispatched++
				mx.Unlock()
				f()
			})
			count := func() int {
				mx.Lock()
				defer mx.Unlock()
				return dispatched
			}
			client, server := startTestClient(hub, &recordingObserver{}, WithDispatcher(dispatcher))
			received := make(chan string, 1)
			Expect(client.On("NewMessage", func(name, message string) { received <- message })).To(Succeed())
			Expect(server.send(`{"type":1,"target":"NewMessage","arguments":["alice","hi"]}`)).To(Succeed())
			Eventually(received).Should(Receive())
			// open and NewMessage
			Expect(count()).To(Equal(2))
			Expect(client.Stop()).To(Succeed())
			Expect(count()).To(Equal(3))
		})
	})
})
