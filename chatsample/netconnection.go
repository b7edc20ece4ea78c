package main

import (
	"context"
	"net"

	"github.com/m3tsllc/signalr"
)

// tcpConnector connects to a hub which serves the signalR protocol on a plain TCP port
func tcpConnector(address string) func(ctx context.Context) (signalr.Connection, error) {
	return func(ctx context.Context) (signalr.Connection, error) {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		return signalr.NewNetConnection(ctx, conn), nil
	}
}
