package realtime

// Props configures a Provider. Only ConnectionURL and Configurator decide
// whether the connection is rebuilt; callbacks are read when their event
// fires, so swapping them replaces the previous ones.
type Props struct {
	// ConnectionURL of the hub. Empty means no connection.
	ConnectionURL string
	// Configurator shapes the builder. Nil uses DefaultConfigurator.
	Configurator *Configurator
	// LogLevel passed to the builder by the default configurator.
	LogLevel LogLevel

	OnConnected    func(conn HubConnection)
	OnError        func(err error)
	OnClose        func(err error)
	OnReconnecting func(err error)
	OnReconnected  func(connectionID string)
}

// ConfiguratorFunc prepares a builder from the provider's props.
type ConfiguratorFunc func(b Builder, props Props) Builder

// Configurator carries a ConfiguratorFunc with pointer identity. The
// provider rebuilds its connection when the *Configurator changes.
type Configurator struct {
	fn ConfiguratorFunc
}

// NewConfigurator wraps fn. Keep the result around; a new Configurator on
// every Update forces a reconnect.
func NewConfigurator(fn ConfiguratorFunc) *Configurator {
	return &Configurator{fn: fn}
}

// Configure applies the configurator to b.
func (c *Configurator) Configure(b Builder, props Props) Builder {
	return c.fn(b, props)
}

// DefaultConfigurator sets the URL and log level and enables automatic reconnect.
var DefaultConfigurator = NewConfigurator(func(b Builder, props Props) Builder {
	return b.
		WithURL(props.ConnectionURL).
		ConfigureLogging(props.LogLevel.Resolve()).
		WithAutomaticReconnect()
})

func (p Props) configurator() *Configurator {
	if p.Configurator == nil {
		return DefaultConfigurator
	}
	return p.Configurator
}

// sameConnectionConfig is the provider's memoization rule.
func sameConnectionConfig(a, b Props) bool {
	return a.ConnectionURL == b.ConnectionURL && a.configurator() == b.configurator()
}
