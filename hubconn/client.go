// Package hubconn is a websocket client for the JSON hub protocol used by
// ASP.NET Core SignalR. *Connection satisfies realtime.HubConnection and
// NewBuilder returns a realtime.Builder producing it.
package hubconn

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gitlab.com/techviking/realtime"
	"gitlab.com/techviking/realtime/logger"
)

//default values for configuration
const (
	defaultHandshakeTimeout  = 15 * time.Second
	defaultKeepAliveInterval = 15 * time.Second
	defaultServerTimeout     = 30 * time.Second
)

// DefaultReconnectDelays is the retry schedule used when automatic reconnect
// is enabled without explicit delays.
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

//Config define options required for connecting to a hub endpoint.
type Config struct {
	//Client allows the consumer to override the default http client used for negotiation.
	Client *http.Client

	//URL of the hub, e.g. https://example.com/hubs/chat.
	URL string `json:"url"`

	//Headers additional header parameters added to the negotiation and websocket requests.
	Headers http.Header `json:"headers,omitempty"`

	//SkipNegotiation dials the websocket directly without the negotiate round trip.
	SkipNegotiation bool `json:"skip_negotiation,omitempty"`

	//HandshakeTimeout bounds the websocket upgrade and protocol handshake. Defaults to 15s.
	HandshakeTimeout time.Duration `json:"handshake_timeout,omitempty"`

	//KeepAliveInterval between client pings. Defaults to 15s.
	KeepAliveInterval time.Duration `json:"keep_alive_interval,omitempty"`

	//ServerTimeout after which a silent server is considered gone. Defaults to 30s.
	ServerTimeout time.Duration `json:"server_timeout,omitempty"`

	//Reconnect enables automatic reconnect over ReconnectDelays.
	Reconnect bool `json:"reconnect,omitempty"`

	//ReconnectDelays waited before each reconnect attempt. Defaults to DefaultReconnectDelays.
	ReconnectDelays []time.Duration `json:"reconnect_delays,omitempty"`

	//LogLevel verbosity of the connection's own logging.
	LogLevel realtime.LogLevel `json:"log_level,omitempty"`

	//Logger base logger. Defaults to the "hubconn" component logger.
	Logger *logger.Logger `json:"-"`
}

//Connection implementation of realtime.HubConnection.
type Connection struct {
	//persist sanitized config
	config Config
	log    *logger.Logger

	//store current state of connection
	state realtime.ConnectionState
	//mutex to make changes to state threadsafe
	stateMutex sync.RWMutex

	mu             sync.Mutex
	session        *session
	connectionID   string
	lifetime       context.Context
	cancelLifetime context.CancelFunc
	handlers       map[string][]*realtime.Handler
	onClose        []func(error)
	onReconnecting []func(error)
	onReconnected  []func(string)

	//guards invocation ids and the pending completions
	callHubIDMutex sync.Mutex
	nextID         uint64
	pending        map[string]chan completion
}

//New generates a new connection based on user data. Specifying an invalid url will not fail until Start.
func New(c Config) *Connection {
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = defaultKeepAliveInterval
	}
	if c.ServerTimeout <= 0 {
		c.ServerTimeout = defaultServerTimeout
	}
	if c.Reconnect && len(c.ReconnectDelays) == 0 {
		c.ReconnectDelays = append([]time.Duration(nil), DefaultReconnectDelays...)
	}

	log := c.Logger
	if log == nil {
		log = logger.Get("hubconn")
	} else {
		log = log.WithComponent("hubconn")
	}
	log = log.WithLevel(zerologLevel(c.LogLevel)).WithFields(logger.Fields(logger.FieldURL, c.URL))

	return &Connection{
		config:   c,
		log:      log,
		state:    realtime.Disconnected,
		handlers: make(map[string][]*realtime.Handler),
		pending:  make(map[string]chan completion),
	}
}

// State implement realtime.HubConnection
func (c *Connection) State() realtime.ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()

	return c.state
}

// ConnectionID returns the id assigned by the server for the current transport.
func (c *Connection) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

func (c *Connection) setState(state realtime.ConnectionState) {
	c.stateMutex.Lock()
	prev := c.state
	c.state = state
	c.stateMutex.Unlock()

	if prev != state {
		c.log.Debug("state changed", logger.Fields(logger.FieldState, string(state)))
	}
}

// transition moves from one state to another and reports whether the
// connection was in from.
func (c *Connection) transition(from, to realtime.ConnectionState) bool {
	c.stateMutex.Lock()
	if c.state != from {
		c.stateMutex.Unlock()
		return false
	}
	c.state = to
	c.stateMutex.Unlock()

	c.log.Debug("state changed", logger.Fields(logger.FieldState, string(to)))
	return true
}

// On implement realtime.HubConnection. Method names are case-insensitive.
func (c *Connection) On(method string, handler *realtime.Handler) {
	if handler == nil {
		return
	}
	key := strings.ToLower(method)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.handlers[key] {
		if h == handler {
			return
		}
	}
	c.handlers[key] = append(c.handlers[key], handler)
}

// Off implement realtime.HubConnection
func (c *Connection) Off(method string, handler *realtime.Handler) {
	key := strings.ToLower(method)
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.handlers[key]
	for i, h := range list {
		if h == handler {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.handlers, key)
		return
	}
	c.handlers[key] = list
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

func (c *Connection) fireClose(err error) {
	c.mu.Lock()
	fns := append(([]func(error))(nil), c.onClose...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *Connection) fireReconnecting(err error) {
	c.mu.Lock()
	fns := append(([]func(error))(nil), c.onReconnecting...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *Connection) fireReconnected(id string) {
	c.mu.Lock()
	fns := append(([]func(string))(nil), c.onReconnected...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func zerologLevel(level realtime.LogLevel) zerolog.Level {
	switch level.Resolve() {
	case realtime.LogTrace:
		return zerolog.TraceLevel
	case realtime.LogDebug:
		return zerolog.DebugLevel
	case realtime.LogInformation:
		return zerolog.InfoLevel
	case realtime.LogError:
		return zerolog.ErrorLevel
	case realtime.LogCritical:
		return zerolog.FatalLevel
	case realtime.LogNone:
		return zerolog.Disabled
	default:
		return zerolog.WarnLevel
	}
}
