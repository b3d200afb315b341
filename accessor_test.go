package realtime_test

import (
	"context"
	"testing"

	"gitlab.com/techviking/realtime"
	"gitlab.com/techviking/realtime/hubtest"
)

func TestFromContextWithoutProvider(t *testing.T) {
	src := realtime.FromContext(context.Background())
	a := realtime.Access(src)

	if a.Connection() != nil {
		t.Error("expected no connection")
	}
	if a.ConnectionState() != realtime.NoState {
		t.Errorf("expected NoState, got %q", a.ConnectionState())
	}
	if a.IsConnected() {
		t.Error("expected not connected")
	}
}

func TestAccessorReadsProvider(t *testing.T) {
	p, f := connectedProvider(t, sum)
	ctx := realtime.NewContext(context.Background(), p)

	a := realtime.Access(realtime.FromContext(ctx))
	if a.Connection() != f.Last() {
		t.Error("accessor returned a different connection")
	}
	if a.ConnectionState() != realtime.Connected || !a.IsConnected() {
		t.Errorf("expected connected, got %q", a.ConnectionState())
	}

	// provider flag alone is not enough
	f.Last().SetState(realtime.Disconnecting)
	if a.IsConnected() {
		t.Error("connected while the connection reports Disconnecting")
	}

	var gotConn realtime.HubConnection
	var gotFlag bool
	realtime.Consume(p, func(conn realtime.HubConnection, connected bool) {
		gotConn, gotFlag = conn, connected
	})
	if gotConn != f.Last() || !gotFlag {
		t.Errorf("Consume got %v %v", gotConn, gotFlag)
	}
}

func TestAccessorStartingConnection(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	f := hubtest.NewFactory(func(c *hubtest.Connection) {
		c.StartFunc = func(context.Context) error {
			<-hold
			return nil
		}
	})
	p := realtime.NewProvider(f.New, realtime.Props{ConnectionURL: hubA}, quiet())
	closeProvider(t, p)

	a := realtime.Access(p)
	if a.Connection() == nil {
		t.Fatal("connection should be published while starting")
	}
	if a.IsConnected() {
		t.Error("connected before start resolved")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    realtime.LogLevel
		wantErr bool
	}{
		{"", realtime.LogLevelDefault, false},
		{"info", realtime.LogInformation, false},
		{" Warning ", realtime.LogWarning, false},
		{"warn", realtime.LogWarning, false},
		{"none", realtime.LogNone, false},
		{"loud", realtime.LogLevelDefault, true},
	}
	for _, tt := range tests {
		got, err := realtime.ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if realtime.LogLevelDefault.Resolve() != realtime.LogWarning {
		t.Error("default level should resolve to warning")
	}
}
