package hubconn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gitlab.com/techviking/realtime"
	"gitlab.com/techviking/realtime/logger"
)

//hub protocol message types
const (
	typeInvocation = 1
	typeCompletion = 3
	typePing       = 6
	typeClose      = 7
)

//invocationMessage parameters for calling a hub method. Arguments must be json marshallable.
type invocationMessage struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId,omitempty"`
	Target       string `json:"target"`
	Arguments    []any  `json:"arguments"`
}

type completion struct {
	result json.RawMessage
	err    string
}

// session is one websocket transport. A reconnect replaces the session, not
// the Connection.
type session struct {
	socket       *websocket.Conn
	connectionID string
	backlog      [][]byte

	//mutex guarding websocket writes; gorilla allows one concurrent writer
	socketWriteMutex sync.Mutex

	done chan struct{}
	once sync.Once
}

func newSession(socket *websocket.Conn, connectionID string) *session {
	return &session{
		socket:       socket,
		connectionID: connectionID,
		done:         make(chan struct{}),
	}
}

func (s *session) write(data []byte) error {
	s.socketWriteMutex.Lock()
	defer s.socketWriteMutex.Unlock()

	if err := s.socket.WriteMessage(websocket.TextMessage, append(data, recordSeparator)); err != nil {
		return SocketError(err.Error())
	}
	return nil
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.socket.Close()
	})
}

// shutdown sends a normal closure before closing the socket.
func (s *session) shutdown(ctx context.Context) error {
	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	err := s.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.close()
	if err != nil && err != websocket.ErrCloseSent {
		return SocketError(err.Error())
	}
	return nil
}

func (c *Connection) activeSession() (*session, error) {
	if state := c.State(); state != realtime.Connected {
		return nil, CallHubError(fmt.Sprintf("cannot send data if the connection is not in the 'Connected' state (%s)", state))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, CallHubError("connection has no transport")
	}
	return c.session, nil
}

// Invoke implement realtime.HubConnection. It waits for the completion
// carrying the method's result.
func (c *Connection) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	s, err := c.activeSession()
	if err != nil {
		return nil, err
	}

	//increment the message identifier.
	c.callHubIDMutex.Lock()
	id := fmt.Sprintf("%d", c.nextID)
	c.nextID++
	reply := make(chan completion, 1)
	c.pending[id] = reply
	c.callHubIDMutex.Unlock()

	defer func() {
		c.callHubIDMutex.Lock()
		delete(c.pending, id)
		c.callHubIDMutex.Unlock()
	}()

	if err := c.sendHubMessage(s, invocationMessage{
		Type:         typeInvocation,
		InvocationID: id,
		Target:       method,
		Arguments:    normalizeArgs(args),
	}); err != nil {
		return nil, err
	}

	select {
	case response := <-reply:
		if response.err != "" {
			return nil, HubError(response.err)
		}
		return response.result, nil
	case <-s.done:
		return nil, SocketError(fmt.Sprintf("connection closed before %s returned a result", method))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implement realtime.HubConnection. It returns once the message is written.
func (c *Connection) Send(ctx context.Context, method string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := c.activeSession()
	if err != nil {
		return err
	}
	return c.sendHubMessage(s, invocationMessage{
		Type:      typeInvocation,
		Target:    method,
		Arguments: normalizeArgs(args),
	})
}

func (c *Connection) sendHubMessage(s *session, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return CallHubError(err.Error())
	}
	return s.write(data)
}

func (c *Connection) complete(id string, response completion) {
	c.callHubIDMutex.Lock()
	reply, ok := c.pending[id]
	c.callHubIDMutex.Unlock()

	if !ok {
		c.log.Debug("completion for unknown invocation", logger.Fields("invocation_id", id))
		return
	}
	select {
	case reply <- response:
	default:
	}
}

func normalizeArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}
