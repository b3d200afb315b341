// Package hubtest provides an in-memory realtime.HubConnection and Builder
// for tests of code built on the realtime package.
package hubtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"gitlab.com/techviking/realtime"
)

//Call records one Invoke or Send issued on a Connection.
type Call struct {
	Kind   string
	Method string
	Args   []any
}

//Registration records one On or Off issued on a Connection.
type Registration struct {
	Op      string // "on" or "off"
	Method  string
	Handler *realtime.Handler
}

//Connection is a scriptable fake hub connection. Its zero value is not
//usable; create it with NewConnection or through a Factory.
type Connection struct {
	// ID identifies the connection in test failures.
	ID string

	// Hooks. Nil hooks succeed immediately.
	StartFunc  func(ctx context.Context) error
	StopFunc   func(ctx context.Context) error
	InvokeFunc func(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	SendFunc   func(ctx context.Context, method string, args ...any) error

	mu             sync.Mutex
	state          realtime.ConnectionState
	starts         int
	stops          int
	calls          []Call
	registrations  []Registration
	handlers       map[string][]*realtime.Handler
	onClose        []func(error)
	onReconnecting []func(error)
	onReconnected  []func(string)
}

//NewConnection returns a disconnected fake.
func NewConnection() *Connection {
	return &Connection{
		ID:       uuid.NewString(),
		state:    realtime.Disconnected,
		handlers: make(map[string][]*realtime.Handler),
	}
}

// Start implement realtime.HubConnection
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	c.starts++
	c.state = realtime.Connecting
	start := c.StartFunc
	c.mu.Unlock()

	var err error
	if start != nil {
		err = start(ctx)
	}

	c.mu.Lock()
	if err != nil {
		c.state = realtime.Disconnected
	} else if c.state == realtime.Connecting {
		c.state = realtime.Connected
	}
	c.mu.Unlock()
	return err
}

// Stop implement realtime.HubConnection. Stopping does not fire OnClose;
// use Close for that.
func (c *Connection) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stops++
	c.state = realtime.Disconnected
	stop := c.StopFunc
	c.mu.Unlock()

	if stop != nil {
		return stop(ctx)
	}
	return nil
}

// Invoke implement realtime.HubConnection
func (c *Connection) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	c.record("invoke", method, args)
	c.mu.Lock()
	invoke := c.InvokeFunc
	c.mu.Unlock()

	if invoke != nil {
		return invoke(ctx, method, args...)
	}
	return nil, nil
}

// Send implement realtime.HubConnection
func (c *Connection) Send(ctx context.Context, method string, args ...any) error {
	c.record("send", method, args)
	c.mu.Lock()
	send := c.SendFunc
	c.mu.Unlock()

	if send != nil {
		return send(ctx, method, args...)
	}
	return nil
}

func (c *Connection) record(kind, method string, args []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Kind: kind, Method: method, Args: append([]any(nil), args...)})
}

// On implement realtime.HubConnection
func (c *Connection) On(method string, handler *realtime.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations = append(c.registrations, Registration{Op: "on", Method: method, Handler: handler})
	c.handlers[method] = append(c.handlers[method], handler)
}

// Off implement realtime.HubConnection. Only the first matching
// registration is removed.
func (c *Connection) Off(method string, handler *realtime.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations = append(c.registrations, Registration{Op: "off", Method: method, Handler: handler})
	list := c.handlers[method]
	for i, h := range list {
		if h == handler {
			c.handlers[method] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// OnClose implement realtime.HubConnection
func (c *Connection) OnClose(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// OnReconnecting implement realtime.HubConnection
func (c *Connection) OnReconnecting(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnecting = append(c.onReconnecting, fn)
}

// OnReconnected implement realtime.HubConnection
func (c *Connection) OnReconnected(fn func(connectionID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnected = append(c.onReconnected, fn)
}

// State implement realtime.HubConnection
func (c *Connection) State() realtime.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

//SetState forces the reported state without firing any callback.
func (c *Connection) SetState(state realtime.ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

//Emit delivers a server-to-client message to the handlers registered for method.
func (c *Connection) Emit(method string, args ...any) error {
	raw := make([]json.RawMessage, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return err
		}
		raw[i] = data
	}

	c.mu.Lock()
	handlers := append([]*realtime.Handler(nil), c.handlers[method]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h.Handle(raw...)
	}
	return nil
}

//Close simulates the connection dropping for good.
func (c *Connection) Close(err error) {
	c.mu.Lock()
	c.state = realtime.Disconnected
	fns := append(([]func(error))(nil), c.onClose...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

//Reconnecting simulates the connection losing its transport and retrying.
func (c *Connection) Reconnecting(err error) {
	c.mu.Lock()
	c.state = realtime.Reconnecting
	fns := append(([]func(error))(nil), c.onReconnecting...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

//Reconnected simulates a successful reconnect.
func (c *Connection) Reconnected(connectionID string) {
	c.mu.Lock()
	c.state = realtime.Connected
	fns := append(([]func(string))(nil), c.onReconnected...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(connectionID)
	}
}

//Starts returns how many times Start was called.
func (c *Connection) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

//Stops returns how many times Stop was called.
func (c *Connection) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

//Calls returns every Invoke and Send recorded so far.
func (c *Connection) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

//Count returns how many calls of kind ("invoke" or "send") hit method.
func (c *Connection) Count(kind, method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Kind == kind && call.Method == method {
			n++
		}
	}
	return n
}

//Handlers returns how many handlers are registered for method.
func (c *Connection) Handlers(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[method])
}

//Registrations returns every On and Off call in the order they happened.
func (c *Connection) Registrations() []Registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Registration(nil), c.registrations...)
}
