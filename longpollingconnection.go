package signalr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// longPollingConnection receives frames by repeated GET requests and sends them by POST requests.
// The server answers a poll with 200 and the pending frames, or with 204 when it closed the connection.
type longPollingConnection struct {
	*ConnectionBase
	client  Doer
	headers func() http.Header
	reqURL  string
	reader  *io.PipeReader
	writer  *io.PipeWriter
	done    chan struct{}
	closed  sync.Once
}

func newLongPollingConnection(ctx context.Context, client Doer, headers func() http.Header,
	reqURL string, connectionID string) *longPollingConnection {
	l := &longPollingConnection{
		ConnectionBase: NewConnectionBase(ctx, connectionID),
		client:         client,
		headers:        headers,
		reqURL:         reqURL,
		done:           make(chan struct{}),
	}
	l.reader, l.writer = io.Pipe()
	go l.poll()
	return l
}

func (l *longPollingConnection) poll() {
	defer close(l.done)
	defer l.Cancel()
	for {
		err := l.pollOnce()
		if err != nil {
			_ = l.writer.CloseWithError(err)
			return
		}
	}
}

func (l *longPollingConnection) pollOnce() error {
	pollURL, err := url.Parse(l.reqURL)
	if err != nil {
		return err
	}
	q := pollURL.Query()
	q.Set("_", strconv.FormatInt(time.Now().UnixMilli(), 10))
	pollURL.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(l.Context(), "GET", pollURL.String(), nil)
	if err != nil {
		return err
	}
	req.Header = l.headers()
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { closeResponseBody(resp.Body) }()
	switch resp.StatusCode {
	case http.StatusOK:
		_, err = io.Copy(l.writer, resp.Body)
		return err
	case http.StatusNoContent:
		return io.EOF
	default:
		return fmt.Errorf("GET %v -> %v", l.reqURL, resp.Status)
	}
}

func (l *longPollingConnection) Read(p []byte) (n int, err error) {
	n, err = l.reader.Read(p)
	if err != nil {
		err = fmt.Errorf("%T: %w", l, err)
	}
	return n, err
}

func (l *longPollingConnection) Write(p []byte) (n int, err error) {
	req, err := http.NewRequestWithContext(l.Context(), "POST", l.reqURL, bytes.NewReader(p))
	if err != nil {
		return 0, err
	}
	req.Header = l.headers()
	resp, err := l.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%T: %w", l, err)
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("%T: POST %v -> %v", l, l.reqURL, resp.Status)
	}
	closeResponseBody(resp.Body)
	return len(p), err
}

// Close tells the server to end the connection and waits until polling stopped.
func (l *longPollingConnection) Close() error {
	var err error
	l.closed.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var req *http.Request
		if req, err = http.NewRequestWithContext(ctx, "DELETE", l.reqURL, nil); err == nil {
			req.Header = l.headers()
			var resp *http.Response
			if resp, err = l.client.Do(req); err == nil {
				closeResponseBody(resp.Body)
			}
		}
	})
	l.Cancel()
	_ = l.reader.CloseWithError(ErrConnectionClosed)
	<-l.done
	return err
}
