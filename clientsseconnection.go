package signalr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type clientSSEConnection struct {
	*ConnectionBase
	client    Doer
	headers   func() http.Header
	reqURL    string
	sseReader *io.PipeReader
	sseWriter *io.PipeWriter
}

// newClientSSEConnection opens the event stream. Frames from the server arrive as data lines,
// frames to the server are sent by POST requests.
func newClientSSEConnection(ctx context.Context, client Doer, headers func() http.Header,
	reqURL string, connectionID string) (*clientSSEConnection, error) {
	c := &clientSSEConnection{
		ConnectionBase: NewConnectionBase(ctx, connectionID),
		client:         client,
		headers:        headers,
		reqURL:         reqURL,
	}
	req, err := http.NewRequestWithContext(c.Context(), "GET", reqURL, nil)
	if err != nil {
		c.Cancel()
		return nil, err
	}
	req.Header = headers()
	req.Header.Set("Accept", "text/event-stream")
	resp, err := client.Do(req)
	if err != nil {
		c.Cancel()
		return nil, err
	}
	if resp.StatusCode != 200 {
		closeResponseBody(resp.Body)
		c.Cancel()
		return nil, fmt.Errorf("GET %v -> %v", reqURL, resp.Status)
	}
	c.sseReader, c.sseWriter = io.Pipe()
	go c.readEvents(resp.Body)
	return c, nil
}

func (c *clientSSEConnection) readEvents(body io.ReadCloser) {
	defer func() {
		closeResponseBody(body)
		c.Cancel()
	}()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1<<15), 1<<20)
	var data []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			// End of event
			if len(data) > 0 {
				if _, err := c.sseWriter.Write([]byte(strings.Join(data, "\n"))); err != nil {
					return
				}
				data = nil
			}
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			// a leading space of the value is removed
			value = strings.TrimPrefix(value, " ")
			data = append(data, value)
		default:
			// Ignore everything but data
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	_ = c.sseWriter.CloseWithError(err)
}

func (c *clientSSEConnection) Read(p []byte) (n int, err error) {
	n, err = c.sseReader.Read(p)
	if err != nil {
		err = fmt.Errorf("%T: %w", c, err)
	}
	return n, err
}

func (c *clientSSEConnection) Write(p []byte) (n int, err error) {
	req, err := http.NewRequestWithContext(c.Context(), "POST", c.reqURL, bytes.NewReader(p))
	if err != nil {
		return 0, err
	}
	req.Header = c.headers()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%T: %w", c, err)
	}
	if resp.StatusCode != 200 {
		err = fmt.Errorf("%T: POST %v -> %v", c, c.reqURL, resp.Status)
	}
	closeResponseBody(resp.Body)
	return len(p), err
}

func (c *clientSSEConnection) Close() error {
	c.Cancel()
	return c.sseReader.CloseWithError(ErrConnectionClosed)
}
