package signalr

import (
	"bytes"
	"fmt"
	"io"
)

// hubProtocol is the codec used on top of a Connection
type hubProtocol interface {
	// ParseMessage decodes a single frame without its record separator
	ParseMessage(frame []byte) (interface{}, error)
	WriteMessage(message interface{}, writer io.Writer) error
	UnmarshalArgument(src interface{}, dst interface{}) error
	setDebugLogger(dbg StructuredLogger)
}

// Protocol
type hubMessage struct {
	Type int `json:"type"`
}

// Message types, see https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/HubProtocol.md
// The stream message types 2, 4 and 5 are not supported by the client.
const (
	invocationType = 1
	completionType = 3
	pingType       = 6
	closeType      = 7
)

type invocationMessage struct {
	Type         int           `json:"type"`
	Target       string        `json:"target"`
	InvocationID string        `json:"invocationId,omitempty"`
	Arguments    []interface{} `json:"arguments"`
}

type completionMessage struct {
	Type         int         `json:"type"`
	InvocationID string      `json:"invocationId"`
	Result       interface{} `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
}

type closeMessage struct {
	Type           int    `json:"type"`
	Error          string `json:"error,omitempty"`
	AllowReconnect bool   `json:"allowReconnect,omitempty"`
}

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// recordSeparator terminates each frame of the text protocol. encoding/json escapes it
// inside strings, so it never appears inside a frame.
const recordSeparator byte = 0x1e

// frameReader splits the byte stream of a Connection into frames
type frameReader struct {
	reader       io.Reader
	buf          bytes.Buffer
	chunk        []byte
	maxFrameSize int
}

// newFrameReader reads chunks of chunkSize bytes. Frames larger than maxFrameSize are an error.
func newFrameReader(reader io.Reader, chunkSize uint, maxFrameSize uint) *frameReader {
	return &frameReader{
		reader:       reader,
		chunk:        make([]byte, chunkSize),
		maxFrameSize: int(maxFrameSize),
	}
}

// Next returns the next complete frame. It blocks until one is available or reading fails.
// When the peer sends more than maxFrameSize bytes without a record separator,
// Next returns a ProtocolError. The stream can not be resynchronized after that.
func (f *frameReader) Next() ([]byte, error) {
	for {
		if i := bytes.IndexByte(f.buf.Bytes(), recordSeparator); i != -1 {
			if i > f.maxFrameSize {
				return nil, f.frameTooLarge()
			}
			frame := make([]byte, i)
			copy(frame, f.buf.Next(i))
			_, _ = f.buf.ReadByte()
			return frame, nil
		}
		if f.buf.Len() > f.maxFrameSize {
			return nil, f.frameTooLarge()
		}
		n, err := f.reader.Read(f.chunk)
		if n > 0 {
			f.buf.Write(f.chunk[:n])
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (f *frameReader) frameTooLarge() error {
	start := f.buf.Bytes()
	if len(start) > 64 {
		start = start[:64]
	}
	return &ProtocolError{
		Frame: string(start) + "...",
		Err:   fmt.Errorf("frame exceeds the maximum size of %d bytes", f.maxFrameSize),
	}
}
