package signalr

import (
	"context"
	"fmt"
)

// ClientState is the lifecycle state of a Client.
//
//	ClientCreated -> ClientConnecting -> ClientConnected <-> ClientReconnecting
//
// ClientClosed and ClientError are terminal. A stopped or failed Client can not be started again.
type ClientState int

const (
	ClientCreated ClientState = iota
	ClientConnecting
	ClientConnected
	ClientReconnecting
	ClientClosed
	ClientError
)

func (s ClientState) String() string {
	switch s {
	case ClientCreated:
		return "Created"
	case ClientConnecting:
		return "Connecting"
	case ClientConnected:
		return "Connected"
	case ClientReconnecting:
		return "Reconnecting"
	case ClientClosed:
		return "Closed"
	case ClientError:
		return "Error"
	default:
		return fmt.Sprintf("ClientState(%d)", int(s))
	}
}

func (s ClientState) terminal() bool {
	return s == ClientClosed || s == ClientError
}

// WaitForClientState returns a channel for waiting on the Client to reach a specific ClientState.
// The channel either returns an error if ctx has been canceled or the client reached
// a terminal state other than waitFor, or it is closed without error when waitFor was reached.
func WaitForClientState(ctx context.Context, client Client, waitFor ClientState) <-chan error {
	ch := make(chan error, 1)
	stateCh := make(chan struct{}, 1)
	client.PushStateChanged(stateCh)
	go func() {
		defer close(ch)
		defer client.RemoveStateChanged(stateCh)
		for {
			state := client.State()
			if state == waitFor {
				return
			}
			if state.terminal() {
				if err := client.Err(); err != nil {
					ch <- fmt.Errorf("client is %v: %w", state, err)
				} else {
					ch <- fmt.Errorf("client is %v", state)
				}
				return
			}
			select {
			case <-stateCh:
			case <-ctx.Done():
				ch <- ctx.Err()
				return
			}
		}
	}()
	return ch
}
