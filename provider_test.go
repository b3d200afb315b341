package realtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gitlab.com/techviking/realtime"
	"gitlab.com/techviking/realtime/hubtest"
	"gitlab.com/techviking/realtime/logger"
)

const (
	hubA = "http://localhost:5000/hubs/a"
	hubB = "http://localhost:5000/hubs/b"
)

func quiet() realtime.Option {
	return realtime.WithLogger(logger.Nop())
}

func closeProvider(t *testing.T, p *realtime.Provider) {
	t.Helper()
	t.Cleanup(func() { _ = p.Close(context.Background()) })
}

// TestProviderConnects start once, report connected, call OnConnected with the connection
func TestProviderConnects(t *testing.T) {
	//Assemble
	f := hubtest.NewFactory(nil)
	var (
		mu        sync.Mutex
		connected []realtime.HubConnection
	)

	//Act
	p := realtime.NewProvider(f.New, realtime.Props{
		ConnectionURL: hubA,
		OnConnected: func(conn realtime.HubConnection) {
			mu.Lock()
			connected = append(connected, conn)
			mu.Unlock()
		},
	}, quiet())
	closeProvider(t, p)

	//Assert
	hubtest.WaitFor(t, "provider connected", func() bool { return p.Snapshot().IsConnected() })
	hubtest.WaitFor(t, "OnConnected", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(connected) == 1
	})

	conn := f.Last()
	if conn == nil {
		t.Fatal("no connection built")
	}
	if conn.Starts() != 1 {
		t.Errorf("expected one start, got %d", conn.Starts())
	}
	mu.Lock()
	if connected[0] != conn {
		t.Errorf("OnConnected received %v, expected %v", connected[0], conn)
	}
	mu.Unlock()
	if p.Phase() != realtime.PhaseConnected {
		t.Errorf("expected phase %s, got %s", realtime.PhaseConnected, p.Phase())
	}
	if p.Err() != nil {
		t.Errorf("unexpected error: %v", p.Err())
	}
}

// TestProviderStartFailure start rejects: OnError fires, nothing is stopped, never connected
func TestProviderStartFailure(t *testing.T) {
	//Assemble
	boom := errors.New("boom")
	f := hubtest.NewFactory(func(c *hubtest.Connection) {
		c.StartFunc = func(context.Context) error { return boom }
	})
	errs := make(chan error, 4)

	//Act
	p := realtime.NewProvider(f.New, realtime.Props{
		ConnectionURL: hubA,
		OnError:       func(err error) { errs <- err },
	}, quiet())
	closeProvider(t, p)

	//Assert
	var got error
	select {
	case got = <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("OnError never called")
	}
	if !errors.Is(got, boom) {
		t.Errorf("expected error wrapping boom, got %v", got)
	}
	var cerr *realtime.ConnectError
	if !errors.As(got, &cerr) || cerr.URL != hubA {
		t.Errorf("expected ConnectError for %s, got %#v", hubA, got)
	}
	if f.Last().Stops() != 0 {
		t.Errorf("failed connection must not be stopped, got %d stops", f.Last().Stops())
	}
	if p.Snapshot().IsConnected() {
		t.Error("provider reports connected after failed start")
	}
	if p.Phase() != realtime.PhaseClosed {
		t.Errorf("expected phase %s, got %s", realtime.PhaseClosed, p.Phase())
	}
	if !errors.Is(p.Err(), boom) {
		t.Errorf("Err() expected to wrap boom, got %v", p.Err())
	}
}

func TestProviderUnhandledStartFailure(t *testing.T) {
	f := hubtest.NewFactory(func(c *hubtest.Connection) {
		c.StartFunc = func(context.Context) error { return errors.New("refused") }
	})
	unhandled := make(chan error, 1)

	p := realtime.NewProvider(f.New, realtime.Props{ConnectionURL: hubA}, quiet(),
		realtime.WithUnhandledError(func(err error) { unhandled <- err }))
	closeProvider(t, p)

	select {
	case err := <-unhandled:
		if err == nil {
			t.Error("expected a non-nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unhandled error hook never called")
	}
}

func TestProviderBuildFailure(t *testing.T) {
	f := hubtest.NewFactory(nil)
	f.FailBuilds(errors.New("bad url"))
	errs := make(chan error, 1)

	p := realtime.NewProvider(f.New, realtime.Props{
		ConnectionURL: hubA,
		OnError:       func(err error) { errs <- err },
	}, quiet())
	closeProvider(t, p)

	select {
	case err := <-errs:
		var cerr *realtime.ConnectError
		if !errors.As(err, &cerr) {
			t.Errorf("expected ConnectError, got %T", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError never called for build failure")
	}
	if p.Snapshot().Connection != nil {
		t.Error("no connection expected after build failure")
	}
}

// TestProviderBuildFailureOnErrorUpdates OnError may clear the URL with Update without blocking
func TestProviderBuildFailureOnErrorUpdates(t *testing.T) {
	//Assemble
	f := hubtest.NewFactory(nil)
	f.FailBuilds(errors.New("bad url"))
	p := realtime.NewProvider(f.New, realtime.Props{}, quiet())
	closeProvider(t, p)
	cleared := make(chan struct{})

	//Act
	updated := make(chan struct{})
	go func() {
		p.Update(realtime.Props{
			ConnectionURL: hubA,
			OnError: func(error) {
				p.Update(realtime.Props{})
				close(cleared)
			},
		})
		close(updated)
	}()

	//Assert
	for what, ch := range map[string]chan struct{}{"Update returned": updated, "OnError cleared the url": cleared} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: timed out", what)
		}
	}
	if phase := p.Phase(); phase != realtime.PhaseNoConnection {
		t.Errorf("expected phase %s, got %s", realtime.PhaseNoConnection, phase)
	}
	if len(f.Builders()) != 1 {
		t.Errorf("expected one build attempt, got %d", len(f.Builders()))
	}
}

// TestProviderURLChange URL A then B: A stopped once, B built and started once
func TestProviderURLChange(t *testing.T) {
	//Assemble
	f := hubtest.NewFactory(nil)
	p := realtime.NewProvider(f.New, realtime.Props{ConnectionURL: hubA}, quiet())
	closeProvider(t, p)
	hubtest.WaitFor(t, "first connection", func() bool { return p.Snapshot().IsConnected() })
	first := f.Last()

	//Act
	p.Update(realtime.Props{ConnectionURL: hubB})

	//Assert
	hubtest.WaitFor(t, "second connection", func() bool {
		return p.Snapshot().Connection != first && p.Snapshot().IsConnected()
	})
	hubtest.WaitFor(t, "first connection stopped", func() bool { return first.Stops() == 1 })

	conns := f.Connections()
	if len(conns) != 2 {
		t.Fatalf("expected two connections, got %d", len(conns))
	}
	if conns[1].Starts() != 1 {
		t.Errorf("expected second connection started once, got %d", conns[1].Starts())
	}
	if b := f.Builders()[1]; b.URL != hubB {
		t.Errorf("second builder configured with %q", b.URL)
	}
}

func TestProviderSameURLIsNoop(t *testing.T) {
	f := hubtest.NewFactory(nil)
	p := realtime.NewProvider(f.New, realtime.Props{ConnectionURL: hubA}, quiet())
	closeProvider(t, p)
	hubtest.WaitFor(t, "connected", func() bool { return p.Snapshot().IsConnected() })

	p.Update(realtime.Props{ConnectionURL: hubA, OnClose: func(error) {}})

	if n := len(f.Connections()); n != 1 {
		t.Errorf("expected one connection, got %d", n)
	}
	if f.Last().Stops() != 0 {
		t.Error("connection stopped on a no-op update")
	}
}

func TestProviderEmptyURL(t *testing.T) {
	f := hubtest.NewFactory(nil)
	p := realtime.NewProvider(f.New, realtime.Props{}, quiet())
	closeProvider(t, p)

	if p.Snapshot().Connection != nil {
		t.Error("expected no connection for an empty url")
	}
	if len(f.Builders()) != 0 {
		t.Errorf("no builder expected, got %d", len(f.Builders()))
	}
	if p.Phase() != realtime.PhaseNoConnection {
		t.Errorf("expected phase %s, got %s", realtime.PhaseNoConnection, p.Phase())
	}

	p.Update(realtime.Props{ConnectionURL: hubA})
	hubtest.WaitFor(t, "connected", func() bool { return p.Snapshot().IsConnected() })
	conn := f.Last()

	p.Update(realtime.Props{})
	if p.Snapshot().Connection != nil {
		t.Error("connection still published after url cleared")
	}
	hubtest.WaitFor(t, "stopped", func() bool { return conn.Stops() == 1 })
}

func TestProviderConfiguratorIdentity(t *testing.T) {
	f := hubtest.NewFactory(nil)
	configure := func(b realtime.Builder, props realtime.Props) realtime.Builder {
		return b.WithURL(props.ConnectionURL).WithAutomaticReconnect(time.Second)
	}
	first := realtime.NewConfigurator(configure)

	p := realtime.NewProvider(f.New, realtime.Props{ConnectionURL: hubA, Configurator: first}, quiet())
	closeProvider(t, p)
	hubtest.WaitFor(t, "connected", func() bool { return p.Snapshot().IsConnected() })

	p.Update(realtime.Props{ConnectionURL: hubA, Configurator: first})
	if n := len(f.Connections()); n != 1 {
		t.Fatalf("same configurator rebuilt the connection: %d connections", n)
	}

	p.Update(realtime.Props{ConnectionURL: hubA, Configurator: realtime.NewConfigurator(configure)})
	hubtest.WaitFor(t, "rebuild", func() bool { return len(f.Connections()) == 2 })

	b := f.Builders()[1]
	if len(b.Delays) != 1 || b.Delays[0] != time.Second {
		t.Errorf("custom configurator not applied, delays %v", b.Delays)
	}
}

func TestProviderDefaultConfigurator(t *testing.T) {
	f := hubtest.NewFactory(nil)
	p := realtime.NewProvider(f.New, realtime.Props{ConnectionURL: hubA}, quiet())
	closeProvider(t, p)

	b := f.Builders()[0]
	if b.URL != hubA {
		t.Errorf("expected url %q, got %q", hubA, b.URL)
	}
	if b.Level != realtime.LogWarning {
		t.Errorf("expected level %s, got %s", realtime.LogWarning, b.Level)
	}
	if !b.Reconnect || len(b.Delays) != 0 {
		t.Errorf("expected default automatic reconnect, got %v %v", b.Reconnect, b.Delays)
	}
}

// TestProviderCallbacksReplace a swapped OnClose replaces the previous one
func TestProviderCallbacksReplace(t *testing.T) {
	//Assemble
	f := hubtest.NewFactory(nil)
	var first, second int
	var mu sync.Mutex

	p := realtime.NewProvider(f.New, realtime.Props{
		ConnectionURL: hubA,
		OnClose: func(error) {
			mu.Lock()
			first++
			mu.Unlock()
		},
	}, quiet())
	closeProvider(t, p)
	hubtest.WaitFor(t, "connected", func() bool { return p.Snapshot().IsConnected() })

	//Act
	p.Update(realtime.Props{
		ConnectionURL: hubA,
		OnClose: func(error) {
			mu.Lock()
			second++
			mu.Unlock()
		},
	})
	f.Last().Close(errors.New("server went away"))

	//Assert
	mu.Lock()
	defer mu.Unlock()
	if first != 0 || second != 1 {
		t.Errorf("expected only the new OnClose to fire once, got first=%d second=%d", first, second)
	}
	if p.Snapshot().IsConnected() {
		t.Error("provider still connected after close")
	}
}

func TestProviderReconnectEvents(t *testing.T) {
	f := hubtest.NewFactory(nil)
	var ids []string
	var reconnecting int
	var mu sync.Mutex

	p := realtime.NewProvider(f.New, realtime.Props{
		ConnectionURL: hubA,
		OnReconnecting: func(error) {
			mu.Lock()
			reconnecting++
			mu.Unlock()
		},
		OnReconnected: func(id string) {
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
		},
	}, quiet())
	closeProvider(t, p)
	hubtest.WaitFor(t, "connected", func() bool { return p.Snapshot().IsConnected() })
	conn := f.Last()

	conn.Reconnecting(errors.New("transport lost"))
	if p.Snapshot().IsConnected() {
		t.Error("snapshot connected while the connection reconnects")
	}

	conn.Reconnected("abc")
	if !p.Snapshot().IsConnected() {
		t.Error("snapshot not connected after reconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	if reconnecting != 1 || len(ids) != 1 || ids[0] != "abc" {
		t.Errorf("unexpected callbacks: reconnecting=%d ids=%v", reconnecting, ids)
	}
}

func TestProviderStaleStartIgnored(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	f := hubtest.NewFactory(func(c *hubtest.Connection) {
		gate := false
		once.Do(func() { gate = true })
		if gate {
			c.StartFunc = func(context.Context) error {
				<-release
				return nil
			}
		}
	})
	var connected []realtime.HubConnection
	var mu sync.Mutex

	p := realtime.NewProvider(f.New, realtime.Props{
		ConnectionURL: hubA,
		OnConnected: func(conn realtime.HubConnection) {
			mu.Lock()
			connected = append(connected, conn)
			mu.Unlock()
		},
	}, quiet())
	closeProvider(t, p)
	slow := f.Last()

	p.Update(realtime.Props{ConnectionURL: hubB, OnConnected: func(conn realtime.HubConnection) {
		mu.Lock()
		connected = append(connected, conn)
		mu.Unlock()
	}})
	hubtest.WaitFor(t, "second connection", func() bool { return p.Snapshot().IsConnected() })
	close(release)

	hubtest.WaitFor(t, "slow connection stopped", func() bool { return slow.Stops() == 1 })
	hubtest.Never(t, "stale start published", 50*time.Millisecond, func() bool {
		return p.Snapshot().Connection == slow
	})

	mu.Lock()
	defer mu.Unlock()
	if len(connected) != 1 || connected[0] == slow {
		t.Errorf("OnConnected must only see the live connection, got %v", connected)
	}
}

func TestProviderClose(t *testing.T) {
	f := hubtest.NewFactory(nil)
	closed := 0
	p := realtime.NewProvider(f.New, realtime.Props{
		ConnectionURL: hubA,
		OnClose:       func(error) { closed++ },
	}, quiet())
	hubtest.WaitFor(t, "connected", func() bool { return p.Snapshot().IsConnected() })
	conn := f.Last()

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if conn.Stops() != 1 {
		t.Errorf("expected one stop, got %d", conn.Stops())
	}
	if p.Snapshot().Connection != nil {
		t.Error("connection still published after close")
	}

	conn.Close(nil)
	if closed != 0 {
		t.Error("OnClose fired for an unmounted provider")
	}

	p.Update(realtime.Props{ConnectionURL: hubB})
	if len(f.Connections()) != 1 {
		t.Error("update after close built a connection")
	}
}

func TestProviderWatchSeesReplacementOnce(t *testing.T) {
	f := hubtest.NewFactory(nil)
	p := realtime.NewProvider(f.New, realtime.Props{ConnectionURL: hubA}, quiet())
	closeProvider(t, p)
	hubtest.WaitFor(t, "connected", func() bool { return p.Snapshot().IsConnected() })
	first := f.Last()

	var mu sync.Mutex
	var seen []realtime.HubConnection
	stop := p.Watch(func(s realtime.Snapshot) {
		mu.Lock()
		seen = append(seen, s.Connection)
		mu.Unlock()
	})
	defer stop()

	p.Update(realtime.Props{ConnectionURL: hubB})
	hubtest.WaitFor(t, "second connected", func() bool { return p.Snapshot().IsConnected() })

	mu.Lock()
	defer mu.Unlock()
	for _, c := range seen {
		if c == first {
			t.Fatal("old connection published after replacement")
		}
	}
}
