package realtime

import "context"

// Snapshot is the pair a provider publishes to its consumers: the current
// connection (nil when none) and whether its start has completed and it has
// not closed since.
type Snapshot struct {
	Connection HubConnection
	Connected  bool
	Phase      Phase
}

// IsConnected reports whether calls are safe to issue: the provider has seen
// the start complete and the connection itself still reports Connected.
func (s Snapshot) IsConnected() bool {
	return s.Connected && s.Connection != nil && s.Connection.State() == Connected
}

// Source publishes snapshots. *Provider is the production Source.
type Source interface {
	Snapshot() Snapshot
	// Watch calls fn with every snapshot published after registration.
	// fn must not call back into the source's mutating methods.
	Watch(fn func(Snapshot)) (stop func())
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying src.
func NewContext(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, contextKey{}, src)
}

// FromContext returns the Source attached to ctx. Without one it returns a
// source that never has a connection.
func FromContext(ctx context.Context) Source {
	if src, ok := ctx.Value(contextKey{}).(Source); ok && src != nil {
		return src
	}
	return emptySource{}
}

type emptySource struct{}

func (emptySource) Snapshot() Snapshot { return Snapshot{Phase: PhaseNoConnection} }
func (emptySource) Watch(func(Snapshot)) (stop func()) { return func() {} }

func sourceOrEmpty(src Source) Source {
	if src == nil {
		return emptySource{}
	}
	return src
}

// Accessor reads the connection published by a Source.
type Accessor struct {
	src Source
}

// Access returns an Accessor over src. A nil src behaves like a source
// without a connection.
func Access(src Source) Accessor {
	return Accessor{src: sourceOrEmpty(src)}
}

// Connection returns the current connection or nil.
func (a Accessor) Connection() HubConnection {
	return a.src.Snapshot().Connection
}

// ConnectionState returns the connection's own state, or NoState without a connection.
func (a Accessor) ConnectionState() ConnectionState {
	conn := a.Connection()
	if conn == nil {
		return NoState
	}
	return conn.State()
}

// IsConnected is true only when the provider considers the connection
// started and the connection itself reports Connected.
func (a Accessor) IsConnected() bool {
	return a.src.Snapshot().IsConnected()
}

// Consume hands the current connection and connected flag to fn.
func Consume(src Source, fn func(conn HubConnection, connected bool)) {
	snap := sourceOrEmpty(src).Snapshot()
	fn(snap.Connection, snap.Connected)
}
