/*
Package signalr contains a signalR hub client.
It speaks the JSON hub protocol over the signalR transports WebSockets, Server-Sent Events, long polling and,
if enabled, WebTransports.
For a deeper understanding of signalR see https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/HubProtocol.md
and https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/TransportProtocols.md

# Basics

The SignalR Protocol is a protocol for two-way RPC over any Message-based transport.
Either party in the connection may invoke procedures on the other party,
and procedures can return a result or an error.

# Client

A Client is created with NewClient(), which gets the address of the hub. When the client is started, it negotiates with
the server which transport will be used and performs the handshake. WithConnector() replaces the negotiation
by a custom way to get a Connection, e.g. NewNetConnection() over a plain TCP connection.
Handlers for server side invocations are registered with client.On() or passed as object with the WithReceiver option.
Server methods are called with client.Invoke(), client.InvokeWithCompletion() and client.Send().

# Connection lifecycle

The client state can be observed with client.State(), client.PushStateChanged() and WaitForClientState().
Observers registered with WithObserver() or client.AddObserver() are notified when the connection is opened,
lost, reestablished or closed.
When the connection is lost and automatic reconnect is enabled, the client reconnects with exponential backoff
(see ReconnectPolicy and WithBackoff). Invocations which are pending while the client reconnects are kept.
When the client gives up or is stopped, all pending invocations complete with ErrConnectionClosed.

# Dispatching

All handlers, completion callbacks and observer notifications are run by a Dispatcher. The default is a
SerialDispatcher, which runs them one after another in a single goroutine. A handler which waits for the
result of client.Invoke() blocks this goroutine and with it the completion it waits for. Use InvokeWithCompletion()
in handlers or pass another Dispatcher with WithDispatcher().

# Supported receiver method parameter and return types

All methods with serializable types as parameters and return types are supported.
Methods with multiple return values are supported. If the last return value is an error, it is sent to the
server as the error of the client result.
*/
package signalr
