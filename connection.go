package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

//ConnectionState string representing the current state of a hub connection.
type ConnectionState string

//Hub connection state values. Re-exported so consumers can branch on the exact state.
const (
	Disconnected  ConnectionState = "Disconnected"
	Connecting    ConnectionState = "Connecting"
	Connected     ConnectionState = "Connected"
	Disconnecting ConnectionState = "Disconnecting"
	Reconnecting  ConnectionState = "Reconnecting"

	// NoState is reported when there is no connection at all.
	NoState ConnectionState = ""
)

//HubConnection specify the capabilities this package consumes from a realtime hub connection.
//
// Implementations must be comparable (typically pointer types): connection
// identity decides when subscriptions and trackers re-bind.
type HubConnection interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	Send(ctx context.Context, method string, args ...any) error

	On(method string, handler *Handler)
	Off(method string, handler *Handler)

	OnClose(fn func(err error))
	OnReconnecting(fn func(err error))
	OnReconnected(fn func(connectionID string))

	State() ConnectionState
}

// Handler receives the arguments of a hub method invoked on the client.
// Handlers are compared by pointer, so callers keep one *Handler per logical
// handler instead of creating a new one on every Update.
type Handler struct {
	fn func(args ...json.RawMessage)
}

// NewHandler wraps fn into a Handler.
func NewHandler(fn func(args ...json.RawMessage)) *Handler {
	return &Handler{fn: fn}
}

// Handle calls the wrapped function. A nil Handler is a no-op.
func (h *Handler) Handle(args ...json.RawMessage) {
	if h == nil || h.fn == nil {
		return
	}
	h.fn(args...)
}

//LogLevel verbosity requested from the underlying connection.
type LogLevel int

//Log levels understood by connection builders. LogLevelDefault resolves to LogWarning.
const (
	LogLevelDefault LogLevel = iota
	LogTrace
	LogDebug
	LogInformation
	LogWarning
	LogError
	LogCritical
	LogNone
)

var logLevelNames = map[LogLevel]string{
	LogTrace:       "trace",
	LogDebug:       "debug",
	LogInformation: "information",
	LogWarning:     "warning",
	LogError:       "error",
	LogCritical:    "critical",
	LogNone:        "none",
}

// String implement Stringer interface
func (l LogLevel) String() string {
	if name, ok := logLevelNames[l.Resolve()]; ok {
		return name
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// Resolve maps LogLevelDefault to LogWarning and returns any other level unchanged.
func (l LogLevel) Resolve() LogLevel {
	if l == LogLevelDefault {
		return LogWarning
	}
	return l
}

// ParseLogLevel parses a level name such as "warning" or "info". An empty
// string yields LogLevelDefault.
func ParseLogLevel(s string) (LogLevel, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "":
		return LogLevelDefault, nil
	case "info":
		return LogInformation, nil
	case "warn":
		return LogWarning, nil
	}
	for level, name := range logLevelNames {
		if key == name {
			return level, nil
		}
	}
	return LogLevelDefault, fmt.Errorf("unknown log level %q", s)
}

//Builder produces hub connections. Every method except Build returns the builder so calls can be chained.
type Builder interface {
	WithURL(url string) Builder
	ConfigureLogging(level LogLevel) Builder
	// WithAutomaticReconnect enables reconnection; with no delays the
	// builder's default schedule is used.
	WithAutomaticReconnect(delays ...time.Duration) Builder
	Build() (HubConnection, error)
}
