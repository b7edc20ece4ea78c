package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/coder/websocket"
	"github.com/go-kit/log"
)

// Doer is the *http.Client interface
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxNegotiateRedirects = 100

// negotiator resolves the hub endpoint, negotiates the connection id with the server
// and opens the best transport both sides support.
type negotiator struct {
	address    string
	client     Doer
	headers    func() http.Header
	transports []TransportType
	readLimit  int64
	info       StructuredLogger
	dbg        StructuredLogger
}

func newNegotiator(address string, config *Config, info, dbg StructuredLogger) *negotiator {
	return &negotiator{
		address:    address,
		client:     config.HTTPClient,
		headers:    config.Headers,
		transports: config.Transports,
		readLimit:  int64(config.MaximumReceiveMessageSize),
		info:       log.WithPrefix(info, "class", "negotiator"),
		dbg:        log.WithPrefix(dbg, "class", "negotiator"),
	}
}

// Connect negotiates with the server and opens a Connection.
// ctx is the parent context of the Connection.
func (n *negotiator) Connect(ctx context.Context) (Connection, error) {
	reqURL, err := url.Parse(n.address)
	if err != nil {
		return nil, &NegotiationError{URL: n.address, Err: err}
	}
	accessToken := ""
	for redirects := 0; ; redirects++ {
		nr, cookies, err := n.negotiate(ctx, reqURL, accessToken)
		if err != nil {
			return nil, err
		}
		if nr.URL == "" {
			return n.open(ctx, reqURL, nr, cookies, accessToken)
		}
		if redirects >= maxNegotiateRedirects {
			return nil, &NegotiationError{URL: reqURL.String(), Err: errors.New("too many negotiate redirects")}
		}
		_ = n.dbg.Log(evt, "negotiate redirect", "url", nr.URL)
		if reqURL, err = url.Parse(nr.URL); err != nil {
			return nil, &NegotiationError{URL: nr.URL, Err: err}
		}
		accessToken = nr.AccessToken
	}
}

func (n *negotiator) header(accessToken string) http.Header {
	header := http.Header{}
	if n.headers != nil {
		header = n.headers().Clone()
		if header == nil {
			header = http.Header{}
		}
	}
	if accessToken != "" {
		header.Set("Authorization", "Bearer "+accessToken)
	}
	return header
}

func (n *negotiator) negotiate(ctx context.Context, reqURL *url.URL, accessToken string) (*negotiateResponse, []*http.Cookie, error) {
	negotiateURL := *reqURL
	negotiateURL.Path = path.Join(negotiateURL.Path, "negotiate")
	q := negotiateURL.Query()
	q.Set("negotiateVersion", "1")
	negotiateURL.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, "POST", negotiateURL.String(), nil)
	if err != nil {
		return nil, nil, &NegotiationError{URL: negotiateURL.String(), Err: err}
	}
	req.Header = n.header(accessToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, nil, &NegotiationError{URL: negotiateURL.String(), Err: err}
	}
	defer func() { closeResponseBody(resp.Body) }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &NegotiationError{
			URL:        negotiateURL.String(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%v %v -> %v", req.Method, req.URL.String(), resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &NegotiationError{URL: negotiateURL.String(), StatusCode: resp.StatusCode, Err: err}
	}
	nr := negotiateResponse{}
	if err := json.Unmarshal(body, &nr); err != nil {
		return nil, nil, &NegotiationError{URL: negotiateURL.String(), StatusCode: resp.StatusCode,
			Err: fmt.Errorf("malformed negotiate response %q: %w", string(body), err)}
	}
	if nr.Error != "" {
		return nil, nil, &NegotiationError{URL: negotiateURL.String(), StatusCode: resp.StatusCode, Err: errors.New(nr.Error)}
	}
	if nr.URL == "" && nr.connectionKey() == "" {
		return nil, nil, &NegotiationError{URL: negotiateURL.String(), StatusCode: resp.StatusCode,
			Err: fmt.Errorf("negotiate response without connectionId: %q", string(body))}
	}
	_ = n.dbg.Log(evt, "negotiated", "connectionId", nr.ConnectionID, "transports", fmt.Sprintf("%v", nr.AvailableTransports))
	return &nr, resp.Cookies(), nil
}

// open tries the transports in order of preference and returns the first one which could be opened
func (n *negotiator) open(ctx context.Context, reqURL *url.URL, nr *negotiateResponse, cookies []*http.Cookie, accessToken string) (Connection, error) {
	connURL := *reqURL
	q := connURL.Query()
	q.Set("id", nr.connectionKey())
	connURL.RawQuery = q.Encode()

	var errs []error
	for _, transport := range n.transports {
		if !nr.hasTransport(transport) {
			continue
		}
		conn, err := n.openTransport(ctx, transport, connURL, nr.ConnectionID, cookies, accessToken)
		if err == nil {
			_ = n.dbg.Log(evt, "transport opened", "transport", transport, "connectionId", nr.ConnectionID)
			return conn, nil
		}
		_ = n.info.Log(evt, "open transport", "transport", transport, "error", err, react, "try next transport")
		errs = append(errs, fmt.Errorf("%v: %w", transport, err))
	}
	if len(errs) == 0 {
		return nil, &NegotiationError{URL: reqURL.String(),
			Err: fmt.Errorf("no common transport, server offers %v, client allows %v", nr.AvailableTransports, n.transports)}
	}
	return nil, &NegotiationError{URL: reqURL.String(), Err: errors.Join(errs...)}
}

func (n *negotiator) openTransport(ctx context.Context, transport TransportType, connURL url.URL,
	connectionID string, cookies []*http.Cookie, accessToken string) (Connection, error) {
	switch transport {
	case TransportWebSockets:
		wsURL := connURL
		// switch to wss for secure connection
		if connURL.Scheme == "https" {
			wsURL.Scheme = "wss"
		} else {
			wsURL.Scheme = "ws"
		}
		opts := &websocket.DialOptions{HTTPHeader: n.header(accessToken)}
		for _, cookie := range cookies {
			opts.HTTPHeader.Add("Cookie", cookie.String())
		}
		ws, _, err := websocket.Dial(ctx, wsURL.String(), opts)
		if err != nil {
			return nil, err
		}
		ws.SetReadLimit(n.readLimit)
		return newWebSocketConnection(ctx, connectionID, ws), nil

	case TransportServerSentEvents:
		conn, err := newClientSSEConnection(ctx, n.client, func() http.Header { return n.header(accessToken) },
			connURL.String(), connectionID)
		if err != nil {
			return nil, err
		}
		return conn, nil

	case TransportLongPolling:
		return newLongPollingConnection(ctx, n.client, func() http.Header { return n.header(accessToken) },
			connURL.String(), connectionID), nil

	case TransportWebTransports:
		return dialWebTransports(ctx, connURL, connectionID, n.header(accessToken))
	}
	return nil, fmt.Errorf("unsupported transport %s", transport)
}

// closeResponseBody reads a http response body to the end and closes it
// See https://blog.cubieserver.de/2022/http-connection-reuse-in-go-clients/
// The body needs to be fully read and closed, otherwise the connection will not be reused
func closeResponseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
