package hubconn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gitlab.com/techviking/realtime"
	"gitlab.com/techviking/realtime/logger"
)

const (
	recordSeparator  byte = 0x1e
	negotiateVersion      = 1
	maxRedirects          = 100
	webSocketsName        = "WebSockets"
)

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

type negotiationResponse struct {
	ConnectionID        string               `json:"connectionId"`
	ConnectionToken     string               `json:"connectionToken"`
	NegotiateVersion    int                  `json:"negotiateVersion"`
	AvailableTransports []availableTransport `json:"availableTransports"`
	URL                 string               `json:"url"`
	AccessToken         string               `json:"accessToken"`
	Error               string               `json:"error"`
}

// Start negotiates, opens the websocket and completes the protocol
// handshake. It fails unless the connection is Disconnected.
func (c *Connection) Start(ctx context.Context) error {
	if !c.transition(realtime.Disconnected, realtime.Connecting) {
		return ConnectError(fmt.Sprintf("cannot start a connection that is not in the 'Disconnected' state (%s)", c.State()))
	}

	lifetime, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.lifetime, c.cancelLifetime = lifetime, cancel
	c.mu.Unlock()

	s, err := c.connect(ctx, lifetime)
	if err != nil {
		cancel()
		// Stop may have run meanwhile; it owns the state then.
		c.transition(realtime.Connecting, realtime.Disconnected)
		c.log.Warn("starting connection failed", logger.ErrorFields("start", err))
		return err
	}

	if !c.attach(s, realtime.Connecting) {
		s.close()
		return ConnectError("connection stopped while starting")
	}

	c.log.Info("connection started", logger.Fields("connection_id", s.connectionID))
	return nil
}

// connect runs one negotiate, dial and handshake cycle. It is aborted when
// either ctx or lifetime ends.
func (c *Connection) connect(ctx, lifetime context.Context) (*session, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(lifetime, cancel)
	defer stop()

	base, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, ConnectError(err.Error())
	}
	if base.Host == "" {
		return nil, ConnectError(fmt.Sprintf("invalid hub url %q", c.config.URL))
	}

	headers := c.config.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}

	nResp := &negotiationResponse{NegotiateVersion: negotiateVersion}
	if !c.config.SkipNegotiation {
		if nResp, base, err = c.negotiate(ctx, base, headers); err != nil {
			return nil, err
		}
	}

	socket, err := c.dial(ctx, base, nResp, headers)
	if err != nil {
		return nil, err
	}

	backlog, err := c.handshake(socket)
	if err != nil {
		_ = socket.Close()
		return nil, err
	}

	s := newSession(socket, nResp.ConnectionID)
	s.backlog = backlog
	return s, nil
}

// negotiate follows redirects until the server hands out a connection.
func (c *Connection) negotiate(ctx context.Context, base *url.URL, headers http.Header) (*negotiationResponse, *url.URL, error) {
	for i := 0; i < maxRedirects; i++ {
		result, err := c.negotiateOnce(ctx, base, headers)
		if err != nil {
			return nil, nil, err
		}
		if result.Error != "" {
			return nil, nil, NegotiationError(result.Error)
		}
		if result.URL == "" {
			if !supportsWebSockets(result.AvailableTransports) {
				return nil, nil, NegotiationError("server does not support WebSockets")
			}
			return result, base, nil
		}

		if base, err = url.Parse(result.URL); err != nil {
			return nil, nil, NegotiationError(fmt.Sprintf("invalid redirect url %q: %s", result.URL, err))
		}
		if result.AccessToken != "" {
			headers.Set("Authorization", "Bearer "+result.AccessToken)
		}
		c.log.Debug("negotiation redirected", logger.Fields(logger.FieldURL, result.URL))
	}
	return nil, nil, NegotiationError("negotiate redirection limit exceeded")
}

func (c *Connection) negotiateOnce(ctx context.Context, base *url.URL, headers http.Header) (*negotiationResponse, error) {
	var (
		request  *http.Request
		response *http.Response
		result   negotiationResponse
		err      error
		body     []byte
	)

	negotiationURL := *base
	negotiationURL.Path = strings.TrimSuffix(negotiationURL.Path, "/") + "/negotiate"
	query := negotiationURL.Query()
	query.Set("negotiateVersion", fmt.Sprintf("%d", negotiateVersion))
	negotiationURL.RawQuery = query.Encode()

	if request, err = http.NewRequestWithContext(ctx, http.MethodPost, negotiationURL.String(), nil); err != nil {
		return nil, NegotiationError(err.Error())
	}

	for k, values := range headers {
		for _, val := range values {
			request.Header.Add(k, val)
		}
	}

	if response, err = c.config.Client.Do(request); err != nil {
		return nil, NegotiationError(err.Error())
	}

	defer response.Body.Close()

	if body, err = io.ReadAll(response.Body); err != nil {
		return nil, NegotiationError(err.Error())
	}

	if response.StatusCode != http.StatusOK {
		return nil, NegotiationError(fmt.Sprintf("unexpected status %d: %s", response.StatusCode, strings.TrimSpace(string(body))))
	}

	if err = json.Unmarshal(body, &result); err != nil {
		return nil, NegotiationError(fmt.Sprintf("failed to parse response '%s': %s", string(body), err.Error()))
	}

	return &result, nil
}

func supportsWebSockets(transports []availableTransport) bool {
	if len(transports) == 0 {
		return true
	}
	for _, t := range transports {
		if strings.EqualFold(t.Transport, webSocketsName) {
			return true
		}
	}
	return false
}

func (c *Connection) dial(ctx context.Context, base *url.URL, params *negotiationResponse, headers http.Header) (*websocket.Conn, error) {
	connectionURL := *base
	switch strings.ToLower(connectionURL.Scheme) {
	case "https", "wss":
		connectionURL.Scheme = "wss"
	default:
		connectionURL.Scheme = "ws"
	}

	id := params.ConnectionToken
	if params.NegotiateVersion < 1 || id == "" {
		id = params.ConnectionID
	}
	if id != "" {
		query := connectionURL.Query()
		query.Set("id", id)
		connectionURL.RawQuery = query.Encode()
	}

	socketDialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.HandshakeTimeout,
		Jar:              c.config.Client.Jar,
	}

	socket, _, err := socketDialer.DialContext(ctx, connectionURL.String(), headers)
	if err != nil {
		return nil, SocketConnectionError(err.Error())
	}
	return socket, nil
}

// handshake sends the protocol request and returns any frames that arrived
// together with the response.
func (c *Connection) handshake(socket *websocket.Conn) ([][]byte, error) {
	deadline := time.Now().Add(c.config.HandshakeTimeout)
	_ = socket.SetWriteDeadline(deadline)
	_ = socket.SetReadDeadline(deadline)

	request := append([]byte(`{"protocol":"json","version":1}`), recordSeparator)
	if err := socket.WriteMessage(websocket.TextMessage, request); err != nil {
		return nil, HandshakeError(err.Error())
	}

	_, data, err := socket.ReadMessage()
	if err != nil {
		return nil, HandshakeError(err.Error())
	}

	frames := splitFrames(data)
	if len(frames) == 0 {
		return nil, HandshakeError("empty handshake response")
	}

	var response struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(frames[0], &response); err != nil {
		return nil, HandshakeError(fmt.Sprintf("invalid handshake response '%s': %s", string(frames[0]), err))
	}
	if response.Error != "" {
		return nil, HandshakeError(response.Error)
	}

	_ = socket.SetWriteDeadline(time.Time{})
	_ = socket.SetReadDeadline(time.Time{})
	return frames[1:], nil
}

func splitFrames(data []byte) [][]byte {
	var frames [][]byte
	for _, frame := range bytes.Split(data, []byte{recordSeparator}) {
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

// attach makes s the live transport if the connection is still in from.
func (c *Connection) attach(s *session, from realtime.ConnectionState) bool {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	if c.state != from {
		return false
	}

	c.mu.Lock()
	c.session = s
	c.connectionID = s.connectionID
	c.mu.Unlock()
	c.state = realtime.Connected

	go c.readLoop(s)
	go c.keepAlive(s)
	return true
}

// Stop closes the connection. OnClose handlers run with a nil error unless
// the connection was still starting, in which case Start reports the failure.
func (c *Connection) Stop(ctx context.Context) error {
	c.stateMutex.Lock()
	prev := c.state
	if prev == realtime.Disconnected || prev == realtime.Disconnecting {
		c.stateMutex.Unlock()
		return nil
	}
	c.state = realtime.Disconnecting
	c.stateMutex.Unlock()

	c.mu.Lock()
	s := c.session
	c.session = nil
	cancel := c.cancelLifetime
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if s != nil {
		err = s.shutdown(ctx)
	}

	c.setState(realtime.Disconnected)
	c.log.Info("connection stopped")
	if prev != realtime.Connecting {
		c.fireClose(nil)
	}
	return err
}

// connectionLost handles the end of a transport that was not stopped by Stop.
func (c *Connection) connectionLost(s *session, cause error, allowReconnect bool) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		s.close()
		return
	}
	c.session = nil
	lifetime := c.lifetime
	c.mu.Unlock()
	s.close()

	c.log.Warn("connection lost", logger.ErrorFields("read", cause))

	if allowReconnect && c.config.Reconnect {
		c.reconnect(lifetime, cause)
		return
	}
	c.finish(realtime.Connected, cause)
}

func (c *Connection) reconnect(lifetime context.Context, cause error) {
	if !c.transition(realtime.Connected, realtime.Reconnecting) {
		return
	}
	c.fireReconnecting(cause)

	for attempt, delay := range c.config.ReconnectDelays {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-lifetime.Done():
			timer.Stop()
			return
		}

		s, err := c.connect(lifetime, lifetime)
		if err != nil {
			cause = err
			c.log.Warn("reconnect attempt failed", logger.Fields("attempt", attempt+1, logger.FieldError, err.Error()))
			continue
		}
		if !c.attach(s, realtime.Reconnecting) {
			s.close()
			return
		}

		c.log.Info("connection reconnected", logger.Fields("connection_id", s.connectionID))
		c.fireReconnected(s.connectionID)
		return
	}

	c.finish(realtime.Reconnecting, cause)
}

// finish moves a connection that ended on its own to Disconnected.
func (c *Connection) finish(from realtime.ConnectionState, err error) {
	if !c.transition(from, realtime.Disconnected) {
		return
	}
	c.mu.Lock()
	cancel := c.cancelLifetime
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.log.Warn("connection closed", logger.ErrorFields("close", err))
	c.fireClose(err)
}
