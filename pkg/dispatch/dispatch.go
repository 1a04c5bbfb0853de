// Package dispatch routes application messages by type id to handler
// methods. Instead of class reflection (the original's dynamic-language
// approach), handlers are plain Go methods discovered by reflecting over
// a registered resource for methods accepting exactly one argument that
// implements Typed; the message's TypeID() is the dispatch key.
package dispatch

import (
	"fmt"
	"reflect"

	"github.com/fosonet/fosonet/pkg/ferrors"
)

// Typed is implemented by every message type that can be dispatched.
type Typed interface {
	TypeID() uint16
}

var typedType = reflect.TypeOf((*Typed)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Dispatcher maps a message's TypeID() to the handler method discovered
// for it. It is built once at startup via Register and is safe for
// concurrent Dispatch calls thereafter (the map itself is never mutated
// after registration completes).
type Dispatcher struct {
	handlers map[uint16]reflect.Value // func(Typed) error, bound to its receiver
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[uint16]reflect.Value)}
}

// Register reflects over resource's exported methods and records every
// one shaped like `func(msg T) error` where T implements Typed. The
// type id a given method handles is discovered by constructing a zero
// value of T (or T's element type, if T is a pointer) and calling
// TypeID() on it — so registration requires each handled message type
// to report its id from its zero value, not from instance data.
func (d *Dispatcher) Register(resource interface{}) error {
	v := reflect.ValueOf(resource)
	t := v.Type()

	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		fn := method.Func
		if fn.Type().NumIn() != 2 { // receiver + one message arg
			continue
		}
		argType := fn.Type().In(1)
		if fn.Type().NumOut() != 1 || fn.Type().Out(0) != errorType {
			continue
		}
		if !argType.Implements(typedType) && !reflect.PointerTo(argType).Implements(typedType) {
			continue
		}

		zero := reflect.New(argType).Elem()
		var typed Typed
		if argType.Implements(typedType) {
			typed, _ = zero.Interface().(Typed)
		} else {
			typed, _ = zero.Addr().Interface().(Typed)
		}
		if typed == nil {
			continue
		}
		id := typed.TypeID()
		if _, exists := d.handlers[id]; exists {
			return fmt.Errorf("dispatch: type id %d already has a registered handler", id)
		}
		d.handlers[id] = v.Method(i)
	}
	return nil
}

// Dispatch invokes the handler registered for msg.TypeID(), returning
// *ferrors.DispatchError if none was registered.
func (d *Dispatcher) Dispatch(msg Typed) error {
	handler, ok := d.handlers[msg.TypeID()]
	if !ok {
		return &ferrors.DispatchError{TypeID: msg.TypeID()}
	}
	out := handler.Call([]reflect.Value{reflect.ValueOf(msg)})
	if err, _ := out[0].Interface().(error); err != nil {
		return err
	}
	return nil
}

// Registered reports how many type ids currently have a handler, mostly
// useful for startup logging/sanity checks.
func (d *Dispatcher) Registered() int { return len(d.handlers) }
