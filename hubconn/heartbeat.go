package hubconn

import (
	"time"

	"gitlab.com/techviking/realtime/logger"
)

//Heartbeat is the ping the client sends to keep an idle connection alive.
type Heartbeat struct {
	Type int `json:"type"`
}

//String implement Stringer interface
func (hb Heartbeat) String() string {
	return "Thump thump!"
}

// keepAlive pings the server until the session ends.
func (c *Connection) keepAlive(s *session) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := c.sendHubMessage(s, Heartbeat{Type: typePing}); err != nil {
				c.log.Debug("ping failed", logger.ErrorFields("ping", err))
				return
			}
		}
	}
}
