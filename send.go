package realtime

import "context"

// Send sends a hub message whenever its inputs change. The server gives no
// result, so only Loading and Error are meaningful.
type Send struct {
	*eagerCall[struct{}]
}

// NewSend starts sending method with args on the connection of src.
func NewSend(src Source, method string, args []any, opts ...Option) *Send {
	tr := newTracker[struct{}]("send", false, sendExec, opts)
	return &Send{newEagerCall[struct{}](tr, src, method, args)}
}

// LazySend sends a hub message only when Send is called.
type LazySend struct {
	*lazyCall[struct{}]
}

// NewLazySend returns an on-demand sender of method on the connection of src.
func NewLazySend(src Source, method string, opts ...Option) *LazySend {
	tr := newTracker[struct{}]("send", false, sendExec, opts)
	return &LazySend{newLazyCall[struct{}](tr, src, method)}
}

// Send sends the message with args and waits until the connection has
// written it. Without a connection it records and returns ErrNoConnection.
func (l *LazySend) Send(ctx context.Context, args ...any) error {
	_, err := l.trigger(ctx, args)
	return err
}

func sendExec(ctx context.Context, conn HubConnection, method string, args []any) (struct{}, error) {
	if err := conn.Send(ctx, method, args...); err != nil {
		return struct{}{}, &RemoteCallError{Method: method, Err: err}
	}
	return struct{}{}, nil
}
