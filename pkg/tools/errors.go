package tools

import (
	"errors"
	"fmt"
)

// ErrToolNotFound is returned when a dispatched tool name is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidArguments wraps schema validation failures so transports can
// map them to a 400-class response.
var ErrInvalidArguments = errors.New("invalid arguments")

// BlockedError is returned when a hook agent denies a tool call before the
// handler runs. The message format is part of the wire contract: clients
// match on the "[BLOCKED]" prefix.
type BlockedError struct {
	Tool    string
	Agent   string
	Message string
}

func (e *BlockedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "tool call denied"
	}
	return fmt.Sprintf("[BLOCKED] %s: %s", e.Agent, msg)
}

// IsBlocked reports whether err is (or wraps) a hook block.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}
