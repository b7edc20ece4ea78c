package signalr

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ReceiverInterface allows receivers to interact with the server directly from the receiver methods
//
//	Init(Client)
//
// Init is used by the Client to connect the receiver to the server.
//
//	Server() Client
//
// Server can be used inside receiver methods to call Client methods,
// e.g. Client.Send, Client.Invoke
type ReceiverInterface interface {
	Init(Client)
	Server() Client
}

// Receiver is a base class for receivers in the client.
// It implements ReceiverInterface
type Receiver struct {
	client Client
}

// Init is used by the Client to connect the receiver to the server.
func (ch *Receiver) Init(client Client) {
	ch.client = client
}

// Server can be used inside receiver methods to call Client methods,
func (ch *Receiver) Server() Client {
	return ch.client
}

// callbackRegistry maps method names to the funcs called when the server invokes them
type callbackRegistry struct {
	mx       sync.RWMutex
	handlers map[string]reflect.Value
	receiver interface{}
}

func newCallbackRegistry(receiver interface{}) *callbackRegistry {
	return &callbackRegistry{
		handlers: make(map[string]reflect.Value),
		receiver: receiver,
	}
}

// on registers handler for method. A later registration for the same method replaces the former one.
func (r *callbackRegistry) on(method string, handler interface{}) error {
	if method == "" {
		return errors.New("method name must not be empty")
	}
	h := reflect.ValueOf(handler)
	if h.Kind() != reflect.Func {
		return fmt.Errorf("handler for %v must be a func, got %T", method, handler)
	}
	r.mx.Lock()
	r.handlers[method] = h
	r.mx.Unlock()
	return nil
}

func (r *callbackRegistry) off(method string) {
	r.mx.Lock()
	delete(r.handlers, method)
	r.mx.Unlock()
}

// lookup finds the handler registered for method. Method names of handlers are case-sensitive,
// the receiver methods are matched case-insensitive.
func (r *callbackRegistry) lookup(method string) (reflect.Value, bool) {
	r.mx.RLock()
	h, ok := r.handlers[method]
	r.mx.RUnlock()
	if ok {
		return h, true
	}
	if r.receiver != nil {
		return getMethod(r.receiver, method)
	}
	return reflect.Value{}, false
}

func getMethod(target interface{}, name string) (reflect.Value, bool) {
	hubType := reflect.TypeOf(target)
	hubValue := reflect.ValueOf(target)
	name = strings.ToLower(name)
	for i := 0; i < hubType.NumMethod(); i++ {
		// Search in public methods
		if m := hubType.Method(i); strings.ToLower(m.Name) == name {
			return hubValue.Method(i), true
		}
	}
	return reflect.Value{}, false
}

// buildMethodArguments unmarshals the arguments of an invocation into the parameter types of method.
// A variadic method takes all surplus arguments.
func buildMethodArguments(method reflect.Value, target string, arguments []interface{}, protocol hubProtocol) ([]reflect.Value, error) {
	t := method.Type()
	numIn := t.NumIn()
	switch {
	case t.IsVariadic() && len(arguments) < numIn-1:
		return nil, fmt.Errorf("method %v expects at least %v arguments, got %v", target, numIn-1, len(arguments))
	case !t.IsVariadic() && len(arguments) != numIn:
		return nil, fmt.Errorf("method %v expects %v arguments, got %v", target, numIn, len(arguments))
	}
	values := make([]reflect.Value, len(arguments))
	for i, argument := range arguments {
		var argType reflect.Type
		if t.IsVariadic() && i >= numIn-1 {
			argType = t.In(numIn - 1).Elem()
		} else {
			argType = t.In(i)
		}
		arg := reflect.New(argType)
		if err := protocol.UnmarshalArgument(argument, arg.Interface()); err != nil {
			return nil, fmt.Errorf("argument %v of method %v: %w", i, target, err)
		}
		values[i] = arg.Elem()
	}
	return values, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// callMethod calls method and splits its return values into the result and the error.
// A panic in method is returned as error.
func callMethod(method reflect.Value, target string, in []reflect.Value) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %v: %v", target, r)
		}
	}()
	out := method.Call(in)
	values := make([]interface{}, 0, len(out))
	for _, rv := range out {
		if rv.Type().Implements(errorType) && rv.Type().Kind() == reflect.Interface {
			if !rv.IsNil() {
				err = rv.Interface().(error)
			}
			continue
		}
		values = append(values, rv.Interface())
	}
	switch len(values) {
	case 0:
		return nil, err
	case 1:
		return values[0], err
	default:
		return values, err
	}
}
