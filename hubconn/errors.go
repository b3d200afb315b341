package hubconn

import "fmt"

// ConnectError used when Start is called on a connection that cannot start.
type ConnectError string

// Error implement Error interface
func (ce ConnectError) Error() string {
	return fmt.Sprintf("ConnectError: %s", string(ce))
}

//NegotiationError error created when negotiation step of connection fails.
type NegotiationError string

// Error implement Error interface
func (ne NegotiationError) Error() string {
	return fmt.Sprintf("NegotiationError: %s", string(ne))
}

//SocketConnectionError error created when the websocket dial fails.
type SocketConnectionError string

// Error implement Error interface
func (sce SocketConnectionError) Error() string {
	return fmt.Sprintf("SocketConnectionError: %s", string(sce))
}

//SocketError error created when websocket.ReadMessage or websocket.WriteMessage returns an error.
type SocketError string

// Error implement Error interface
func (se SocketError) Error() string {
	return fmt.Sprintf("SocketError: %s", string(se))
}

//HandshakeError error created when the server rejects or never answers the protocol handshake.
type HandshakeError string

// Error implement Error interface
func (he HandshakeError) Error() string {
	return fmt.Sprintf("HandshakeError: %s", string(he))
}

//TimeoutError error created when the server stays silent past the server timeout.
type TimeoutError string

// Error implement Error interface
func (te TimeoutError) Error() string {
	return fmt.Sprintf("TimeoutError: %s", string(te))
}

//HubMessageError error created when the server closes the connection with an error.
type HubMessageError string

//Error implement the error interface
func (hme HubMessageError) Error() string {
	return fmt.Sprintf("HubMessageError: %s", string(hme))
}

// CallHubError error generated during an attempt to send a message to the hub
type CallHubError string

// Error implement Error interface
func (che CallHubError) Error() string {
	return fmt.Sprintf("CallHubError: %s", string(che))
}

// HubError is the error text of a completion returned by a hub method.
type HubError string

// Error implement Error interface
func (he HubError) Error() string {
	return fmt.Sprintf("HubError: %s", string(he))
}
