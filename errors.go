package realtime

import (
	"errors"
	"fmt"
)

// NoConnectionError is reported when a call is attempted while no hub
// connection exists. It is synthesised locally and never comes from the network.
type NoConnectionError string

// Error implement Error interface
func (nce NoConnectionError) Error() string {
	return string(nce)
}

// ErrNoConnection is the value every tracker reports when there is no connection.
const ErrNoConnection NoConnectionError = "realtime connection object does not exist."

//RemoteCallError wraps a failure returned by Invoke or Send on the connection.
type RemoteCallError struct {
	Method string
	Err    error
}

// Error implement Error interface
func (rce *RemoteCallError) Error() string {
	return fmt.Sprintf("RemoteCallError: %s: %s", rce.Method, rce.Err)
}

func (rce *RemoteCallError) Unwrap() error { return rce.Err }

//ConnectError wraps a failure to build or start a connection.
type ConnectError struct {
	URL string
	Err error
}

// Error implement Error interface
func (ce *ConnectError) Error() string {
	return fmt.Sprintf("ConnectError: %s: %s", ce.URL, ce.Err)
}

func (ce *ConnectError) Unwrap() error { return ce.Err }

// IsNoConnection reports whether err is, or wraps, a NoConnectionError.
func IsNoConnection(err error) bool {
	var nce NoConnectionError
	return errors.As(err, &nce)
}
