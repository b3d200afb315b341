package realtime

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gitlab.com/techviking/realtime/logger"
)

// UnloadNotifier is the hosting environment's "about to shut down" signal.
type UnloadNotifier interface {
	// OnUnload registers fn and returns a function that deregisters it.
	OnUnload(fn func()) (remove func())
}

// UnloadGuard stops the current connection when the environment unloads.
type UnloadGuard struct {
	src     Source
	env     UnloadNotifier
	timeout time.Duration
	log     *logger.Logger

	mu        sync.Mutex
	conn      HubConnection
	ran       bool
	closed    bool
	reg       *unloadRegistration
	stopWatch func()
}

// CloseBeforeUnload registers a one-shot handler with env that stops the
// connection of src. The handler follows connection changes and is
// deregistered, without firing, when the guard is closed.
func CloseBeforeUnload(src Source, env UnloadNotifier, opts ...Option) *UnloadGuard {
	o := buildOptions("unload", opts)
	g := &UnloadGuard{
		src:     sourceOrEmpty(src),
		env:     env,
		timeout: o.stopTimeout,
		log:     o.log,
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopWatch = g.src.Watch(func(snap Snapshot) { g.onSnapshot(snap) })
	g.registerLocked(g.src.Snapshot().Connection)
	return g
}

// Close deregisters the handler without firing it.
func (g *UnloadGuard) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	reg := g.reg
	g.reg = nil
	stop := g.stopWatch
	g.mu.Unlock()

	stop()
	reg.cancel()
}

func (g *UnloadGuard) onSnapshot(snap Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.registerLocked(snap.Connection)
}

func (g *UnloadGuard) registerLocked(conn HubConnection) {
	if g.ran && conn == g.conn {
		return
	}
	g.ran = true
	g.conn = conn
	g.reg.cancel()

	reg := &unloadRegistration{}
	g.reg = reg
	remove := g.env.OnUnload(func() {
		if !reg.fire() {
			return
		}
		if conn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
			defer cancel()
			if err := conn.Stop(ctx); err != nil {
				g.log.Warn("stopping connection before unload failed", logger.ErrorFields("stop", err))
			}
		}
		reg.cancel()
	})
	reg.setRemove(remove)
}

// unloadRegistration makes a registered handler fire at most once and
// deregister at most once, even when the environment fires it before
// OnUnload has returned the remove function.
type unloadRegistration struct {
	mu        sync.Mutex
	fired     bool
	cancelled bool
	remove    func()
}

func (r *unloadRegistration) fire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fired || r.cancelled {
		return false
	}
	r.fired = true
	return true
}

func (r *unloadRegistration) setRemove(remove func()) {
	r.mu.Lock()
	if !r.cancelled {
		r.remove = remove
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	remove()
}

func (r *unloadRegistration) cancel() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.cancelled = true
	remove := r.remove
	r.remove = nil
	r.mu.Unlock()

	if remove != nil {
		remove()
	}
}

// SignalNotifier is an UnloadNotifier driven by OS signals, SIGINT and
// SIGTERM by default. Unload fires the handlers directly.
type SignalNotifier struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func()

	signals chan os.Signal
	done    chan struct{}
	once    sync.Once
}

// NewSignalNotifier starts listening for sigs.
func NewSignalNotifier(sigs ...os.Signal) *SignalNotifier {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	n := &SignalNotifier{
		handlers: make(map[uint64]func()),
		signals:  make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}
	signal.Notify(n.signals, sigs...)
	go n.loop()
	return n
}

func (n *SignalNotifier) loop() {
	for {
		select {
		case <-n.signals:
			n.Unload()
		case <-n.done:
			return
		}
	}
}

// OnUnload implements UnloadNotifier.
func (n *SignalNotifier) OnUnload(fn func()) (remove func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.handlers[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.handlers, id)
		n.mu.Unlock()
	}
}

// Unload runs every registered handler.
func (n *SignalNotifier) Unload() {
	n.mu.Lock()
	handlers := make([]func(), 0, len(n.handlers))
	for _, fn := range n.handlers {
		handlers = append(handlers, fn)
	}
	n.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// Close stops listening for signals.
func (n *SignalNotifier) Close() {
	n.once.Do(func() {
		signal.Stop(n.signals)
		close(n.done)
	})
}
