package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"gitlab.com/techviking/realtime/logger"
)

//Phase of the provider's connection lifecycle.
type Phase int

//Provider phases.
const (
	PhaseNoConnection Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseClosed
)

var phaseNames = [...]string{"NoConnection", "Connecting", "Connected", "Closed"}

// String implement Stringer interface
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "Unknown"
	}
	return phaseNames[p]
}

// Provider owns at most one live hub connection and publishes it to the
// consumers below it. Consumers see a replacement as a single snapshot
// change: the old connection is never published after the new one.
type Provider struct {
	newBuilder func() Builder
	opts       *options
	tel        *telemetry

	// lifecycle serialises Update and Close.
	lifecycle sync.Mutex

	mu      sync.Mutex
	props   Props
	conn    HubConnection
	phase   Phase
	gen     uint64
	lastErr error
	closed  bool

	snap observable[Snapshot]
}

// NewProvider mounts a provider with the initial props. newBuilder returns a
// fresh Builder for every connection the provider creates.
func NewProvider(newBuilder func() Builder, props Props, opts ...Option) *Provider {
	o := buildOptions("provider", opts)
	p := &Provider{
		newBuilder: newBuilder,
		opts:       o,
		tel:        newTelemetry(o),
		props:      props,
		phase:      PhaseNoConnection,
	}
	p.snap.set(Snapshot{Phase: PhaseNoConnection})

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.connect()

	return p
}

// Snapshot returns the currently published connection and flag.
func (p *Provider) Snapshot() Snapshot {
	return p.snap.get()
}

// Watch registers fn for every snapshot the provider publishes.
func (p *Provider) Watch(fn func(Snapshot)) (stop func()) {
	return p.snap.watch(fn)
}

// Phase returns the current lifecycle phase.
func (p *Provider) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Err returns the build or start failure of the current connection, if any.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Update replaces the props. The connection is rebuilt only when the URL or
// the configurator changed.
func (p *Provider) Update(props Props) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	prev := p.props
	p.props = props
	p.mu.Unlock()

	if sameConnectionConfig(prev, props) {
		return
	}
	p.connect()
}

// Close unmounts the provider: the connection is unpublished and stopped.
func (p *Provider) Close(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	old := p.conn
	p.gen++
	p.conn = nil
	p.phase = PhaseNoConnection
	p.mu.Unlock()

	p.publish()

	if old == nil {
		return nil
	}
	p.opts.log.Debug("stopping connection on close")
	return old.Stop(ctx)
}

// connect tears down the current connection and builds its replacement.
// Callers hold p.lifecycle.
func (p *Provider) connect() {
	p.mu.Lock()
	old := p.conn
	p.gen++
	gen := p.gen
	props := p.props
	p.conn = nil
	p.lastErr = nil
	p.mu.Unlock()

	if old != nil {
		go p.stopStale(old)
	}

	if props.ConnectionURL == "" {
		p.mu.Lock()
		p.phase = PhaseNoConnection
		p.mu.Unlock()
		p.publish()
		p.opts.log.Debug("no connection url, connection torn down")
		return
	}

	log := p.opts.log.WithFields(logger.Fields(logger.FieldURL, props.ConnectionURL, logger.FieldGeneration, gen))

	conn, err := props.configurator().Configure(p.newBuilder(), props).Build()
	if err == nil && conn == nil {
		err = errors.New("builder returned no connection")
	}
	if err != nil {
		cerr := &ConnectError{URL: props.ConnectionURL, Err: err}
		p.mu.Lock()
		p.phase = PhaseClosed
		p.lastErr = cerr
		p.mu.Unlock()
		p.publish()
		p.tel.recordStart(cerr)
		log.Warn("building connection failed", logger.ErrorFields("build", err))
		// Reported off the lifecycle lock so OnError may call Update or Close.
		go p.reportStartError(props, cerr)
		return
	}

	conn.OnClose(func(err error) { p.handleClose(gen, err) })
	conn.OnReconnecting(func(err error) { p.handleReconnecting(gen, err) })
	conn.OnReconnected(func(id string) { p.handleReconnected(gen, id) })

	ref := uuid.NewString()
	p.mu.Lock()
	p.conn = conn
	p.phase = PhaseConnecting
	p.mu.Unlock()
	p.publish()

	log.Info("starting connection", logger.Fields("ref", ref))
	go p.start(gen, conn, props.ConnectionURL, log)
}

func (p *Provider) start(gen uint64, conn HubConnection, url string, log *logger.Logger) {
	err := conn.Start(context.Background())

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		log.Debug("ignoring start result of a replaced connection")
		return
	}
	if err != nil {
		err = &ConnectError{URL: url, Err: err}
		p.phase = PhaseClosed
		p.lastErr = err
	} else {
		p.phase = PhaseConnected
	}
	props := p.props
	p.mu.Unlock()

	p.publish()
	p.tel.recordStart(err)

	if err != nil {
		log.Warn("starting connection failed", logger.ErrorFields("start", err))
		p.reportStartError(props, err)
		return
	}

	log.Info("connection started")
	if props.OnConnected != nil {
		props.OnConnected(conn)
	}
}

func (p *Provider) reportStartError(props Props, err error) {
	if props.OnError != nil {
		props.OnError(err)
		return
	}
	if p.opts.unhandled != nil {
		p.opts.unhandled(err)
		return
	}
	p.opts.log.Error("unhandled connection error", logger.ErrorFields("start", err))
}

func (p *Provider) stopStale(conn HubConnection) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.stopTimeout)
	defer cancel()

	if err := conn.Stop(ctx); err != nil {
		p.opts.log.Warn("stopping replaced connection failed", logger.ErrorFields("stop", err))
	}
}

// current returns the props if gen is still the live generation.
func (p *Provider) current(gen uint64) (Props, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props, gen == p.gen
}

func (p *Provider) handleClose(gen uint64, err error) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.phase = PhaseClosed
	props := p.props
	p.mu.Unlock()

	p.publish()
	if err != nil {
		p.opts.log.Warn("connection closed", logger.ErrorFields("close", err))
	} else {
		p.opts.log.Info("connection closed")
	}

	if props.OnClose != nil {
		props.OnClose(err)
	}
}

func (p *Provider) handleReconnecting(gen uint64, err error) {
	props, ok := p.current(gen)
	if !ok {
		return
	}
	p.publish()
	p.opts.log.Info("connection reconnecting")

	if props.OnReconnecting != nil {
		props.OnReconnecting(err)
	}
}

func (p *Provider) handleReconnected(gen uint64, connectionID string) {
	props, ok := p.current(gen)
	if !ok {
		return
	}
	p.publish()
	p.opts.log.Info("connection reconnected", logger.Fields("connection_id", connectionID))

	if props.OnReconnected != nil {
		props.OnReconnected(connectionID)
	}
}

// publish pushes the current connection and flag to watchers.
func (p *Provider) publish() {
	p.snap.publish(func(Snapshot) (Snapshot, bool) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return Snapshot{
			Connection: p.conn,
			Connected:  p.phase == PhaseConnected,
			Phase:      p.phase,
		}, true
	})
}
