package signalr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
)

// Config holds the settings of a Client. It is filled by the options passed to NewClient
// and consumed once when the Client is built.
type Config struct {
	// Logger receives the structured log events of the client. Default is logfmt on stderr.
	Logger StructuredLogger
	// LogLevel is one of "debug", "info", "warn", "error" and "none"
	LogLevel string
	// AutoReconnect lets the client reconnect after an unexpected connection loss
	AutoReconnect bool
	// Reconnect is the policy used when AutoReconnect is set and no BackoffFactory is given
	Reconnect ReconnectPolicy
	// BackoffFactory replaces the Reconnect policy. It is called for each connection loss.
	BackoffFactory func() backoff.BackOff
	// Transports is the list of allowed transports in order of preference
	Transports []TransportType
	// HTTPClient is used for negotiation, Server-Sent Events and long polling
	HTTPClient Doer
	// Headers provides the request headers for all HTTP and websocket requests
	Headers func() http.Header
	// Connector replaces negotiation. It is used to open each new Connection.
	Connector func(ctx context.Context) (Connection, error)
	// Dispatcher runs all callbacks. Default is a serial dispatcher owned by the client.
	Dispatcher Dispatcher
	// Receiver is an object whose exported methods are called by the server
	Receiver interface{}
	// Observers are notified about connection lifecycle events
	Observers []Observer

	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	TimeoutInterval   time.Duration
	InvocationTimeout time.Duration
	CloseTimeout      time.Duration
	// MaximumReceiveMessageSize limits the size of a single incoming frame
	MaximumReceiveMessageSize uint
}

// Option is a functional option for NewClient
type Option func(*Config) error

func defaultConfig() Config {
	return Config{
		Logger:            log.NewLogfmtLogger(os.Stderr),
		LogLevel:          "info",
		Reconnect:         DefaultReconnectPolicy(),
		Transports:        []TransportType{TransportWebSockets, TransportServerSentEvents, TransportLongPolling},
		HTTPClient:        http.DefaultClient,
		HandshakeTimeout:  time.Second * 15,
		KeepAliveInterval: time.Second * 15,
		TimeoutInterval:   time.Second * 30,
		CloseTimeout:      time.Second * 5,

		MaximumReceiveMessageSize: 1 << 20,
	}
}

// WithAutoReconnect lets the client reconnect with the default ReconnectPolicy
// when the connection is lost unexpectedly.
func WithAutoReconnect() Option {
	return func(c *Config) error {
		c.AutoReconnect = true
		return nil
	}
}

// WithReconnectPolicy enables auto reconnect and sets the policy used for it
func WithReconnectPolicy(policy ReconnectPolicy) Option {
	return func(c *Config) error {
		if err := policy.validate(); err != nil {
			return fmt.Errorf("option WithReconnectPolicy: %w", err)
		}
		c.AutoReconnect = true
		c.Reconnect = policy
		return nil
	}
}

// WithBackoff enables auto reconnect and sets the factory for the backoff.BackOff which decides
// about the delay before each reconnect attempt. When the BackOff returns backoff.Stop,
// the client gives up and ends in ClientError state.
func WithBackoff(backoffFactory func() backoff.BackOff) Option {
	return func(c *Config) error {
		if backoffFactory == nil {
			return errors.New("option WithBackoff: backoffFactory is nil")
		}
		c.AutoReconnect = true
		c.BackoffFactory = backoffFactory
		return nil
	}
}

// WithTransports sets the allowed transports in order of preference.
func WithTransports(transports ...TransportType) Option {
	return func(c *Config) error {
		if len(transports) == 0 {
			return errors.New("option WithTransports: no transport given")
		}
		for _, transport := range transports {
			switch transport {
			case TransportWebSockets, TransportServerSentEvents, TransportLongPolling, TransportWebTransports:
				// Supported
			default:
				return fmt.Errorf("option WithTransports: unsupported transport %s", transport)
			}
		}
		c.Transports = transports
		return nil
	}
}

// WithHTTPClient sets the http client used to connect to the signalR server.
// The client is used for negotiation, Server-Sent Events and long polling requests.
// It is not used for the websocket connection.
func WithHTTPClient(client Doer) Option {
	return func(c *Config) error {
		if client == nil {
			return errors.New("option WithHTTPClient: client is nil")
		}
		c.HTTPClient = client
		return nil
	}
}

// WithHTTPHeaders sets the function for providing request headers for HTTP and websocket requests
func WithHTTPHeaders(headers func() http.Header) Option {
	return func(c *Config) error {
		c.Headers = headers
		return nil
	}
}

// WithConnector sets the function which opens the Connection to the server.
// When it is set, no negotiation takes place and the address passed to NewClient is only validated.
func WithConnector(connector func(ctx context.Context) (Connection, error)) Option {
	return func(c *Config) error {
		if connector == nil {
			return errors.New("option WithConnector: connector is nil")
		}
		c.Connector = connector
		return nil
	}
}

// WithDispatcher sets the Dispatcher which runs all handlers, invocation completions and observer callbacks.
func WithDispatcher(dispatcher Dispatcher) Option {
	return func(c *Config) error {
		if dispatcher == nil {
			return errors.New("option WithDispatcher: dispatcher is nil")
		}
		c.Dispatcher = dispatcher
		return nil
	}
}

// WithReceiver sets the object which serves the callbacks from the server.
// All exported methods of receiver can be called by the server, the method names are matched case-insensitive.
// Handlers registered with Client.On take precedence.
// If receiver implements ReceiverInterface, its Init method is called with the Client.
func WithReceiver(receiver interface{}) Option {
	return func(c *Config) error {
		switch reflect.ValueOf(receiver).Kind() {
		case reflect.Ptr, reflect.Struct:
			c.Receiver = receiver
			return nil
		default:
			return fmt.Errorf("option WithReceiver: receiver must be a struct or a pointer, got %T", receiver)
		}
	}
}

// WithObserver registers an Observer before the client is started
func WithObserver(observer Observer) Option {
	return func(c *Config) error {
		if observer == nil {
			return errors.New("option WithObserver: observer is nil")
		}
		c.Observers = append(c.Observers, observer)
		return nil
	}
}
