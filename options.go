package signalr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// StructuredLogger is the simplest logging interface for structured logging.
// See github.com/go-kit/log
type StructuredLogger interface {
	Log(keyVals ...interface{}) error
}

// log keys and common events
const (
	evt     = "event"
	msg     = "message"
	react   = "reaction"
	msgRecv = "message received"
	msgSend = "message send"
)

// Logger sets the logger used by the client to log info events.
// If debug is true, debug log events are generated, too
func Logger(logger StructuredLogger, debug bool) Option {
	return func(c *Config) error {
		if logger == nil {
			return fmt.Errorf("option Logger: logger is nil")
		}
		c.Logger = logger
		if debug {
			c.LogLevel = "debug"
		} else {
			c.LogLevel = "info"
		}
		return nil
	}
}

// LogLevel sets the log verbosity. Allowed values are "debug", "info", "warn", "error" and "none".
func LogLevel(lvl string) Option {
	return func(c *Config) error {
		if _, err := levelOption(lvl); err != nil {
			return err
		}
		c.LogLevel = strings.ToLower(lvl)
		return nil
	}
}

// TimeoutInterval is the interval the client will consider the server disconnected
// if it hasn't received a message (including keep-alive) in it.
// The recommended value is double the KeepAliveInterval value of the server.
// Default is 30 seconds.
func TimeoutInterval(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("option TimeoutInterval: invalid timeout %v", timeout)
		}
		c.TimeoutInterval = timeout
		return nil
	}
}

// HandshakeTimeout is the interval in which the server has to answer the handshake request,
// otherwise starting the connection fails.
// Default is 15 seconds.
func HandshakeTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("option HandshakeTimeout: invalid timeout %v", timeout)
		}
		c.HandshakeTimeout = timeout
		return nil
	}
}

// KeepAliveInterval is the interval in which a ping message is sent to keep the connection open.
// When changing KeepAliveInterval, change the TimeoutInterval setting on the server.
// Default is 15 seconds.
func KeepAliveInterval(interval time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return fmt.Errorf("option KeepAliveInterval: invalid interval %v", interval)
		}
		c.KeepAliveInterval = interval
		return nil
	}
}

// InvocationTimeout sets the time an invocation may wait for its result.
// When the time is over, the invocation completes with ErrInvocationTimeout.
// The timeout runs independently of reconnects. Default is 0, which means no timeout.
func InvocationTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 {
			return fmt.Errorf("option InvocationTimeout: invalid timeout %v", timeout)
		}
		c.InvocationTimeout = timeout
		return nil
	}
}

// CloseTimeout is the time Stop waits for the close message to be written.
// When the transport does not take it in time, the connection is closed without it.
// Default is 5 seconds.
func CloseTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("option CloseTimeout: invalid timeout %v", timeout)
		}
		c.CloseTimeout = timeout
		return nil
	}
}

// MaximumReceiveMessageSize is the maximum size of a single incoming hub message.
// A larger message ends the connection.
// Default is 1MB
func MaximumReceiveMessageSize(size uint) Option {
	return func(c *Config) error {
		if size == 0 {
			return errors.New("unsupported MaximumReceiveMessageSize 0")
		}
		c.MaximumReceiveMessageSize = size
		return nil
	}
}

func levelOption(lvl string) (level.Option, error) {
	switch strings.ToLower(lvl) {
	case "debug":
		return level.AllowDebug(), nil
	case "", "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	case "none":
		return level.AllowNone(), nil
	default:
		return nil, fmt.Errorf("invalid log level %q", lvl)
	}
}

func buildInfoDebugLogger(logger log.Logger, lvl string) (log.Logger, log.Logger) {
	option, err := levelOption(lvl)
	if err != nil {
		option = level.AllowInfo()
	}
	logger = level.NewFilter(logger, option)
	return level.Info(logger), log.With(level.Debug(logger), "caller", log.DefaultCaller)
}
