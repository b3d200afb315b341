package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Invoke calls a hub method whenever its inputs change and tracks the
// decoded result. The call fires once the source reports connected and
// again on every change of connection, connected flag, method or arguments.
type Invoke[T any] struct {
	*eagerCall[T]
}

// NewInvoke starts tracking method with args on the connection of src.
func NewInvoke[T any](src Source, method string, args []any, opts ...Option) *Invoke[T] {
	tr := newTracker[T]("invoke", true, invokeExec[T], opts)
	return &Invoke[T]{newEagerCall[T](tr, src, method, args)}
}

// LazyInvoke calls a hub method only when Invoke is called.
type LazyInvoke[T any] struct {
	*lazyCall[T]
}

// NewLazyInvoke returns an on-demand invoker of method on the connection of src.
func NewLazyInvoke[T any](src Source, method string, opts ...Option) *LazyInvoke[T] {
	tr := newTracker[T]("invoke", true, invokeExec[T], opts)
	return &LazyInvoke[T]{newLazyCall[T](tr, src, method)}
}

// Invoke calls the method with args and waits for its result. Without a
// connection it records and returns ErrNoConnection. A result superseded by
// a later Invoke is returned to its caller but never stored.
func (l *LazyInvoke[T]) Invoke(ctx context.Context, args ...any) (T, error) {
	return l.trigger(ctx, args)
}

func invokeExec[T any](ctx context.Context, conn HubConnection, method string, args []any) (T, error) {
	var out T
	raw, err := conn.Invoke(ctx, method, args...)
	if err != nil {
		return out, &RemoteCallError{Method: method, Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &RemoteCallError{Method: method, Err: fmt.Errorf("decoding result: %w", err)}
	}
	return out, nil
}
