package apierr

import "fmt"

// SocketParseError indicates a malformed inbound WebSocket frame. These are
// logged and dropped by the socket managers; the connection stays alive.
type SocketParseError struct {
	Channel string
	Err     error
}

func NewSocketParseError(channel string, err error) *SocketParseError {
	return &SocketParseError{Channel: channel, Err: err}
}

func (e *SocketParseError) Error() string {
	return fmt.Sprintf("malformed frame on %s channel: %v", e.Channel, e.Err)
}

func (e *SocketParseError) Unwrap() error {
	return e.Err
}
