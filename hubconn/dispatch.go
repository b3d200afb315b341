package hubconn

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gitlab.com/techviking/realtime"
	"gitlab.com/techviking/realtime/logger"
)

//serverMessage any message the hub sends to the client.
type serverMessage struct {
	Type           int               `json:"type"`
	InvocationID   string            `json:"invocationId"`
	Target         string            `json:"target"`
	Arguments      []json.RawMessage `json:"arguments"`
	Result         json.RawMessage   `json:"result"`
	Error          string            `json:"error"`
	AllowReconnect bool              `json:"allowReconnect"`
}

// readLoop runs for the lifetime of one session.
func (c *Connection) readLoop(s *session) {
	for _, frame := range s.backlog {
		if closed := c.dispatch(s, frame); closed {
			return
		}
	}
	s.backlog = nil

	for {
		_ = s.socket.SetReadDeadline(time.Now().Add(c.config.ServerTimeout))

		_, data, err := s.socket.ReadMessage()
		if err != nil {
			c.connectionLost(s, readError(err), true)
			return
		}

		for _, frame := range splitFrames(data) {
			if closed := c.dispatch(s, frame); closed {
				return
			}
		}
	}
}

func readError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutError("server timeout elapsed without receiving a message from the server")
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return SocketError("server closed the connection")
	}
	return SocketError(err.Error())
}

// dispatch handles one frame and reports whether the session ended.
func (c *Connection) dispatch(s *session, frame []byte) bool {
	var message serverMessage
	if err := json.Unmarshal(frame, &message); err != nil {
		c.log.Warn("dropping malformed message", logger.ErrorFields("dispatch", HubMessageError(fmt.Sprintf("unable to unmarshal message data: %s", err.Error()))))
		return false
	}

	switch message.Type {
	case typeInvocation:
		c.invokeHandlers(message)
	case typeCompletion:
		c.complete(message.InvocationID, completion{result: message.Result, err: message.Error})
	case typePing:
	case typeClose:
		var cause error
		if message.Error != "" {
			cause = HubMessageError(message.Error)
		} else {
			cause = SocketError("server closed the connection")
		}
		c.connectionLost(s, cause, message.AllowReconnect)
		return true
	default:
		c.log.Debug("ignoring message", logger.Fields("type", message.Type))
	}
	return false
}

func (c *Connection) invokeHandlers(message serverMessage) {
	c.mu.Lock()
	handlers := append([]*realtime.Handler(nil), c.handlers[strings.ToLower(message.Target)]...)
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.log.Warn("no client method found", logger.Fields(logger.FieldMethod, message.Target))
		return
	}
	if message.InvocationID != "" {
		c.log.Warn("server expects a client result, none will be sent", logger.Fields(logger.FieldMethod, message.Target))
	}
	for _, h := range handlers {
		h.Handle(message.Arguments...)
	}
}
