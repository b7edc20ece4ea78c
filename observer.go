package signalr

import "sync"

// Observer is notified about the lifecycle of a Client.
// All methods are called by the Dispatcher of the Client.
//
//	OnOpen(connectionID string)
//
// OnOpen is called when Start succeeded.
//
//	OnFailedToOpen(err error)
//
// OnFailedToOpen is called when Start failed. The client does not retry.
//
//	OnClose(err error)
//
// OnClose is called when the connection ended. err is nil when the connection was stopped by Stop
// or closed by the server without error.
//
//	OnReconnecting(err error)
//
// OnReconnecting is called once per connection loss when the client starts to reconnect.
//
//	OnReconnected(connectionID string)
//
// OnReconnected is called when the client is connected again.
type Observer interface {
	OnOpen(connectionID string)
	OnFailedToOpen(err error)
	OnClose(err error)
	OnReconnecting(err error)
	OnReconnected(connectionID string)
}

// ObserverFuncs is an Observer built from funcs. Nil funcs are skipped.
type ObserverFuncs struct {
	Open         func(connectionID string)
	FailedToOpen func(err error)
	Close        func(err error)
	Reconnecting func(err error)
	Reconnected  func(connectionID string)
}

func (o ObserverFuncs) OnOpen(connectionID string) {
	if o.Open != nil {
		o.Open(connectionID)
	}
}

func (o ObserverFuncs) OnFailedToOpen(err error) {
	if o.FailedToOpen != nil {
		o.FailedToOpen(err)
	}
}

func (o ObserverFuncs) OnClose(err error) {
	if o.Close != nil {
		o.Close(err)
	}
}

func (o ObserverFuncs) OnReconnecting(err error) {
	if o.Reconnecting != nil {
		o.Reconnecting(err)
	}
}

func (o ObserverFuncs) OnReconnected(connectionID string) {
	if o.Reconnected != nil {
		o.Reconnected(connectionID)
	}
}

type observerEntry struct {
	id       int
	observer Observer
}

// observerList holds the registered observers in registration order.
// The client only references an observer until its remove func is called.
type observerList struct {
	mx      sync.Mutex
	lastID  int
	entries []observerEntry
}

func (l *observerList) add(observer Observer) (remove func()) {
	l.mx.Lock()
	l.lastID++
	id := l.lastID
	l.entries = append(l.entries, observerEntry{id: id, observer: observer})
	l.mx.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mx.Lock()
			defer l.mx.Unlock()
			for i, e := range l.entries {
				if e.id == id {
					l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *observerList) snapshot() []Observer {
	l.mx.Lock()
	defer l.mx.Unlock()
	observers := make([]Observer, len(l.entries))
	for i, e := range l.entries {
		observers[i] = e.observer
	}
	return observers
}
