package hubconn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gitlab.com/techviking/realtime"
	"gitlab.com/techviking/realtime/logger"
)

func startedConnection(t *testing.T) (*Connection, *testHub) {
	t.Helper()
	hub := newTestHub(t, nil)
	c := New(testConfig(hub.URL()))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, hub
}

func TestInvoke(t *testing.T) {
	//Assemble
	c, _ := startedConnection(t)

	//Act
	raw, err := c.Invoke(context.Background(), "Echo", map[string]int{"n": 3})

	//Assert
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(raw, &got); err != nil || got["n"] != 3 {
		t.Errorf("unexpected result %s (%v)", raw, err)
	}
}

func TestInvokeHubError(t *testing.T) {
	c, _ := startedConnection(t)

	_, err := c.Invoke(context.Background(), "Fail")

	var he HubError
	if !errors.As(err, &he) || string(he) != "method failed" {
		t.Errorf("expected HubError, got %v", err)
	}
}

func TestInvokeEmptyResult(t *testing.T) {
	c, _ := startedConnection(t)

	raw, err := c.Invoke(context.Background(), "Echo")

	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("expected empty result, got %s", raw)
	}
}

func TestInvokeNotConnected(t *testing.T) {
	c := New(testConfig("http://localhost:1/hub"))

	_, err := c.Invoke(context.Background(), "Echo", 1)

	var che CallHubError
	if !errors.As(err, &che) {
		t.Errorf("expected CallHubError, got %v", err)
	}
	if err := c.Send(context.Background(), "Echo"); !errors.As(err, &che) {
		t.Errorf("expected CallHubError from send, got %v", err)
	}
}

func TestInvokeContextCanceled(t *testing.T) {
	c, _ := startedConnection(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the completion may still win the race, so only a non-cancel error is a failure
	if _, err := c.Invoke(ctx, "Echo", 1); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestSendAndOn(t *testing.T) {
	//Assemble
	c, hub := startedConnection(t)
	got := make(chan string, 1)
	h := realtime.NewHandler(func(args ...json.RawMessage) {
		var s string
		if len(args) > 0 {
			_ = json.Unmarshal(args[0], &s)
		}
		got <- s
	})
	c.On("message", h)
	c.On("message", h)

	//Act
	if err := c.Send(context.Background(), "Broadcast", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	//Assert
	select {
	case s := <-got:
		if s != "hello" {
			t.Errorf("expected hello, got %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	select {
	case <-got:
		t.Error("handler registered twice")
	case <-time.After(50 * time.Millisecond):
	}

	waitFor(t, "hub saw broadcast", func() bool {
		calls := hub.received()
		return len(calls) == 1 && calls[0] == "Broadcast"
	})

	c.Off("Message", h)
	if err := c.Send(context.Background(), "Broadcast", "again"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-got:
		t.Error("handler called after Off")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConcurrentInvokes(t *testing.T) {
	c, _ := startedConnection(t)

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			raw, err := c.Invoke(context.Background(), "Echo", i)
			if err == nil {
				var n int
				if err = json.Unmarshal(raw, &n); err == nil && n != i {
					err = errors.New("result routed to the wrong invocation")
				}
			}
			errs <- err
		}(i)
	}
	for i := 0; i < 20; i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}

// TestCompleteUnknownInvocation an unmatched completion is logged with its id and dropped
func TestCompleteUnknownInvocation(t *testing.T) {
	//Assemble
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, &logger.Config{Level: "debug", Format: "json"}, "test")
	c := New(Config{URL: "http://localhost:1337/hub", Logger: log, LogLevel: realtime.LogDebug})

	//Act
	c.complete("42", completion{})

	//Assert
	out := buf.String()
	if !strings.Contains(out, "completion for unknown invocation") {
		t.Fatalf("expected a debug line for the unknown completion, got %q", out)
	}
	if !strings.Contains(out, `"invocation_id":"42"`) {
		t.Errorf("expected invocation_id field, got %q", out)
	}
}
