package signalr

import "sync"

// Dispatcher runs the callbacks of a Client: handlers for server invocations,
// invocation completions and Observer notifications.
// The Client calls Dispatch in the order in which the frames were received or sent.
// A Dispatcher which runs the functions one after another in this order keeps it for the callbacks.
type Dispatcher interface {
	Dispatch(f func())
}

// DispatcherFunc adapts a func to the Dispatcher interface
type DispatcherFunc func(f func())

// Dispatch calls d(f)
func (d DispatcherFunc) Dispatch(f func()) {
	d(f)
}

// NewSerialDispatcher returns a Dispatcher which runs all functions in one goroutine in FIFO order.
// Dispatch never blocks. Close ends the goroutine after all queued functions have run.
func NewSerialDispatcher() *SerialDispatcher {
	d := &SerialDispatcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// SerialDispatcher is a Dispatcher with an unbounded queue served by a single goroutine
type SerialDispatcher struct {
	mx     sync.Mutex
	queue  []func()
	closed bool
	signal chan struct{}
	done   chan struct{}
}

// Dispatch queues f. After Close, f runs in its own goroutine.
func (d *SerialDispatcher) Dispatch(f func()) {
	d.mx.Lock()
	if d.closed {
		d.mx.Unlock()
		go f()
		return
	}
	d.queue = append(d.queue, f)
	select {
	case d.signal <- struct{}{}:
	default:
	}
	d.mx.Unlock()
}

// Close stops accepting functions. Already queued functions still run.
func (d *SerialDispatcher) Close() {
	d.mx.Lock()
	if !d.closed {
		d.closed = true
		close(d.signal)
	}
	d.mx.Unlock()
}

// Done is closed when the dispatcher goroutine ended
func (d *SerialDispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *SerialDispatcher) run() {
	defer close(d.done)
	for {
		d.mx.Lock()
		queue := d.queue
		d.queue = nil
		closed := d.closed
		d.mx.Unlock()
		for _, f := range queue {
			f()
		}
		if len(queue) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.signal
	}
}
