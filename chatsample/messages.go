package main

import "sync"

// messageLog is the ordered list of chat lines. Subscribers are called
// for each appended line in the order the lines were appended.
type messageLog struct {
	mx          sync.Mutex
	messages    []string
	lastID      int
	subscribers map[int]func(index int, message string)
	// serializes the notification of subscribers
	notifyMx sync.Mutex
}

func newMessageLog() *messageLog {
	return &messageLog{subscribers: make(map[int]func(int, string))}
}

func (l *messageLog) Append(message string) {
	l.notifyMx.Lock()
	defer l.notifyMx.Unlock()
	l.mx.Lock()
	l.messages = append(l.messages, message)
	index := len(l.messages) - 1
	subscribers := make([]func(int, string), 0, len(l.subscribers))
	for id := 1; id <= l.lastID; id++ {
		if s, ok := l.subscribers[id]; ok {
			subscribers = append(subscribers, s)
		}
	}
	l.mx.Unlock()
	for _, s := range subscribers {
		s(index, message)
	}
}

func (l *messageLog) Len() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return len(l.messages)
}

func (l *messageLog) Messages() []string {
	l.mx.Lock()
	defer l.mx.Unlock()
	messages := make([]string, len(l.messages))
	copy(messages, l.messages)
	return messages
}

// Subscribe registers f for appended lines. The returned func unsubscribes.
func (l *messageLog) Subscribe(f func(index int, message string)) (unsubscribe func()) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.lastID++
	id := l.lastID
	l.subscribers[id] = f
	return func() {
		l.mx.Lock()
		delete(l.subscribers, id)
		l.mx.Unlock()
	}
}
