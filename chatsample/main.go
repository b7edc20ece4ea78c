package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	kitlog "github.com/go-kit/log"
	"github.com/spf13/cobra"

	"github.com/m3tsllc/signalr"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath  string
		url         string
		tcp         string
		name        string
		logLevel    string
		noReconnect bool
	)
	cmd := &cobra.Command{
		Use:   "chatsample",
		Short: "Chat over a signalR hub",
		Long: `Connects to a signalR chat hub, prints every message the hub broadcasts with NewMessage
and broadcasts each line read from stdin with Broadcast.`,
		Example:      "  chatsample --url http://localhost:5000/chat --name alice",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("url") {
				cfg.URL = url
			}
			if flags.Changed("tcp") {
				cfg.TCP = tcp
			}
			if flags.Changed("name") {
				cfg.Name = name
			}
			if flags.Changed("log") {
				cfg.LogLevel = logLevel
			}
			if noReconnect {
				cfg.Reconnect.Enabled = false
			}
			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	cmd.Flags().StringVarP(&url, "url", "u", "", "hub url, e.g. http://localhost:5000/chat")
	cmd.Flags().StringVar(&tcp, "tcp", "", "connect to a hub on a plain TCP address instead of negotiating")
	cmd.Flags().StringVarP(&name, "name", "n", "", "your name in the chat")
	cmd.Flags().StringVar(&logLevel, "log", "", "log level: debug, info, warn, error or none")
	cmd.Flags().BoolVar(&noReconnect, "no-reconnect", false, "do not reconnect when the connection is lost")
	return cmd
}

func run(ctx context.Context, cfg Config, in io.Reader, out io.Writer, logOut io.Writer) error {
	if cfg.URL == "" && cfg.TCP == "" {
		return errors.New("either url or tcp is required")
	}
	messages := newMessageLog()
	unsubscribe := messages.Subscribe(func(_ int, message string) {
		_, _ = fmt.Fprintln(out, message)
	})
	defer unsubscribe()

	session := newChatSession(cfg.Name, messages)
	options := []signalr.Option{
		signalr.Logger(kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(logOut)), false),
		signalr.LogLevel(cfg.LogLevel),
		signalr.WithObserver(session),
	}
	address := cfg.URL
	if cfg.TCP != "" {
		options = append(options, signalr.WithConnector(tcpConnector(cfg.TCP)))
		if address == "" {
			address = "http://" + cfg.TCP
		}
	}
	if cfg.Reconnect.Enabled {
		policy, err := cfg.Reconnect.reconnectPolicy()
		if err != nil {
			return err
		}
		options = append(options, signalr.WithReconnectPolicy(policy))
	}
	client, err := signalr.NewClient(ctx, address, options...)
	if err != nil {
		return err
	}
	session.hub = client
	if err := client.On("NewMessage", session.NewMessage); err != nil {
		return err
	}
	stateChanged := make(chan struct{}, 1)
	client.PushStateChanged(stateChanged)
	defer client.RemoveStateChanged(stateChanged)
	if err := client.Start(); err != nil {
		return err
	}
	defer func() { _ = client.Stop() }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !session.Send(strings.TrimSpace(line)) {
				messages.Append("Not connected, message dropped.")
			}
		case <-stateChanged:
			switch client.State() {
			case signalr.ClientClosed:
				return nil
			case signalr.ClientError:
				return client.Err()
			}
		case <-ctx.Done():
			return nil
		}
	}
}
