package hubtest

import (
	"sync"
	"testing"
	"time"

	"gitlab.com/techviking/realtime"
)

//Factory hands out Builders that produce fake Connections and remembers
//everything it built.
type Factory struct {
	configure func(*Connection)

	mu          sync.Mutex
	buildErr    error
	builders    []*Builder
	connections []*Connection
}

//NewFactory returns a Factory. configure, when not nil, runs on every new
//Connection before it is returned from Build.
func NewFactory(configure func(*Connection)) *Factory {
	return &Factory{configure: configure}
}

//New returns a fresh Builder. Pass f.New as the provider's builder factory.
func (f *Factory) New() realtime.Builder {
	b := &Builder{factory: f}
	f.mu.Lock()
	f.builders = append(f.builders, b)
	f.mu.Unlock()
	return b
}

//FailBuilds makes every subsequent Build return err. Nil restores success.
func (f *Factory) FailBuilds(err error) {
	f.mu.Lock()
	f.buildErr = err
	f.mu.Unlock()
}

//Builders returns every Builder handed out so far.
func (f *Factory) Builders() []*Builder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Builder(nil), f.builders...)
}

//Connections returns every Connection built so far, oldest first.
func (f *Factory) Connections() []*Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Connection(nil), f.connections...)
}

//Last returns the most recently built Connection or nil.
func (f *Factory) Last() *Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connections) == 0 {
		return nil
	}
	return f.connections[len(f.connections)-1]
}

//Builder records the configuration applied to it.
type Builder struct {
	factory *Factory

	mu        sync.Mutex
	URL       string
	Level     realtime.LogLevel
	Reconnect bool
	Delays    []time.Duration
}

// WithURL implement realtime.Builder
func (b *Builder) WithURL(url string) realtime.Builder {
	b.mu.Lock()
	b.URL = url
	b.mu.Unlock()
	return b
}

// ConfigureLogging implement realtime.Builder
func (b *Builder) ConfigureLogging(level realtime.LogLevel) realtime.Builder {
	b.mu.Lock()
	b.Level = level
	b.mu.Unlock()
	return b
}

// WithAutomaticReconnect implement realtime.Builder
func (b *Builder) WithAutomaticReconnect(delays ...time.Duration) realtime.Builder {
	b.mu.Lock()
	b.Reconnect = true
	b.Delays = append([]time.Duration(nil), delays...)
	b.mu.Unlock()
	return b
}

// Build implement realtime.Builder
func (b *Builder) Build() (realtime.HubConnection, error) {
	f := b.factory
	f.mu.Lock()
	err := f.buildErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	conn := NewConnection()
	if f.configure != nil {
		f.configure(conn)
	}

	f.mu.Lock()
	f.connections = append(f.connections, conn)
	f.mu.Unlock()
	return conn, nil
}

//WaitFor polls cond until it holds or two seconds pass.
func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

//Never fails t if cond becomes true within d.
func Never(t testing.TB, what string, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			t.Fatalf("unexpected: %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
