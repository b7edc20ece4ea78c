package signalr

// TransportType is the name of a transport as used in the negotiation
type TransportType string

const (
	TransportWebSockets       TransportType = "WebSockets"
	TransportServerSentEvents TransportType = "ServerSentEvents"
	TransportLongPolling      TransportType = "LongPolling"
	TransportWebTransports    TransportType = "WebTransports"
)

// TransferFormatType is the name of a transfer format as used in the negotiation
type TransferFormatType string

const (
	TransferFormatText   TransferFormatType = "Text"
	TransferFormatBinary TransferFormatType = "Binary"
)

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

type negotiateResponse struct {
	ConnectionToken     string               `json:"connectionToken,omitempty"`
	ConnectionID        string               `json:"connectionId"`
	NegotiateVersion    int                  `json:"negotiateVersion,omitempty"`
	AvailableTransports []availableTransport `json:"availableTransports"`
	URL                 string               `json:"url,omitempty"`
	AccessToken         string               `json:"accessToken,omitempty"`
	Error               string               `json:"error,omitempty"`
}

// hasTransport reports if the server offers transportType with the text transfer format
func (nr *negotiateResponse) hasTransport(transportType TransportType) bool {
	for _, transport := range nr.AvailableTransports {
		if transport.Transport != string(transportType) {
			continue
		}
		for _, format := range transport.TransferFormats {
			if format == string(TransferFormatText) {
				return true
			}
		}
	}
	return false
}

// connectionKey is the value of the id query parameter used by the transport.
// Since negotiateVersion 1, the server separates the public connectionId from the connectionToken.
func (nr *negotiateResponse) connectionKey() string {
	if nr.NegotiateVersion >= 1 && nr.ConnectionToken != "" {
		return nr.ConnectionToken
	}
	return nr.ConnectionID
}
