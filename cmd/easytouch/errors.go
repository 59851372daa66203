package main

import (
	"context"
	"errors"

	"github.com/openrv/easytouch/internal/cmdqueue"
	"github.com/openrv/easytouch/internal/device"
	"github.com/openrv/easytouch/internal/protocol"
)

// FormatUserError translates internal error chains into messages suitable
// for terminal output, without stack-like wrapping noise.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrNotConnected):
		return "thermostat is not connected (is the vendor app holding the connection?)"
	case errors.Is(err, cmdqueue.ErrCommandTimeout):
		return "thermostat did not acknowledge the command in time"
	case errors.Is(err, cmdqueue.ErrQueueClosed):
		return "client shut down before the command completed"
	case errors.Is(err, protocol.ErrOutOfRange):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for the thermostat"
	default:
		return err.Error()
	}
}
