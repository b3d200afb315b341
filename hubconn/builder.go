package hubconn

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gitlab.com/techviking/realtime"
)

//Builder implementation of realtime.Builder producing *Connection.
type Builder struct {
	config Config
}

//NewBuilder returns a builder starting from base. URL, log level and
//reconnect settings in base are overridden by the builder methods.
func NewBuilder(base Config) *Builder {
	base.ReconnectDelays = append([]time.Duration(nil), base.ReconnectDelays...)
	base.Headers = base.Headers.Clone()
	return &Builder{config: base}
}

//Factory returns a function handing out a fresh Builder from base on every
//call, the shape realtime.NewProvider expects.
func Factory(base Config) func() realtime.Builder {
	return func() realtime.Builder { return NewBuilder(base) }
}

// WithURL implement realtime.Builder
func (b *Builder) WithURL(url string) realtime.Builder {
	b.config.URL = url
	return b
}

// ConfigureLogging implement realtime.Builder
func (b *Builder) ConfigureLogging(level realtime.LogLevel) realtime.Builder {
	b.config.LogLevel = level
	return b
}

// WithAutomaticReconnect implement realtime.Builder
func (b *Builder) WithAutomaticReconnect(delays ...time.Duration) realtime.Builder {
	b.config.Reconnect = true
	b.config.ReconnectDelays = append([]time.Duration(nil), delays...)
	return b
}

// Build implement realtime.Builder. It only validates the URL; nothing is
// dialled until Start.
func (b *Builder) Build() (realtime.HubConnection, error) {
	u, err := url.Parse(b.config.URL)
	if err != nil {
		return nil, ConnectError(err.Error())
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return nil, ConnectError(fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, ConnectError(fmt.Sprintf("hub url %q has no host", b.config.URL))
	}
	return New(b.config), nil
}
