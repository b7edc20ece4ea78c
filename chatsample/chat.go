package main

import (
	"fmt"
	"sync"

	"github.com/m3tsllc/signalr"
)

type invoker interface {
	InvokeWithCompletion(method string, arguments []interface{}, completion func(signalr.InvokeResult))
}

// chatSession connects the message log with the hub connection.
// It observes the connection to enable or disable the input.
type chatSession struct {
	name     string
	messages *messageLog
	hub      invoker

	mx           sync.Mutex
	inputEnabled bool
	reconnecting bool
}

func newChatSession(name string, messages *messageLog) *chatSession {
	return &chatSession{name: name, messages: messages}
}

// NewMessage is called by the hub for each broadcast message
func (s *chatSession) NewMessage(user, message string) {
	s.messages.Append(fmt.Sprintf("%v: %v", user, message))
}

// Send broadcasts message. It returns false if the input is disabled.
func (s *chatSession) Send(message string) bool {
	if message == "" {
		return true
	}
	if !s.InputEnabled() {
		return false
	}
	s.hub.InvokeWithCompletion("Broadcast", []interface{}{s.name, message}, func(result signalr.InvokeResult) {
		if result.Error != nil {
			s.messages.Append(fmt.Sprintf("Error: %v", result.Error))
		}
	})
	return true
}

func (s *chatSession) InputEnabled() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.inputEnabled
}

func (s *chatSession) Reconnecting() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.reconnecting
}

func (s *chatSession) OnOpen(string) {
	s.toggleInput(true)
}

func (s *chatSession) OnFailedToOpen(err error) {
	s.block("Connection failed to start.", err)
}

func (s *chatSession) OnClose(err error) {
	s.mx.Lock()
	s.reconnecting = false
	s.mx.Unlock()
	s.block("Connection is closed.", err)
}

func (s *chatSession) OnReconnecting(error) {
	s.mx.Lock()
	if s.reconnecting {
		s.mx.Unlock()
		return
	}
	s.reconnecting = true
	s.mx.Unlock()
	s.messages.Append("Reconnecting... Please wait")
}

func (s *chatSession) OnReconnected(string) {
	s.mx.Lock()
	s.reconnecting = false
	s.mx.Unlock()
}

func (s *chatSession) block(message string, err error) {
	if err != nil {
		message = fmt.Sprintf("%v Error: %v", message, err)
	}
	s.messages.Append(message)
	s.toggleInput(false)
}

func (s *chatSession) toggleInput(enabled bool) {
	s.mx.Lock()
	s.inputEnabled = enabled
	s.mx.Unlock()
}
