// Package cmdqueue serializes outbound thermostat commands: strict FIFO with
// reboot priority, at most one unacknowledged command in flight, retry on
// timeout, and requeue across BLE sessions.
package cmdqueue

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"

	"github.com/openrv/easytouch/internal/protocol"
)

// Config holds the dispatcher tuning knobs. Zero values are replaced with
// the documented defaults, derived from the device's observed latency (the
// firmware routinely takes multiple seconds to apply a change).
type Config struct {
	// CommandTimeout is how long to wait for the protocol-level ack (a status
	// notification) after a write before retrying.
	CommandTimeout time.Duration `yaml:"command_timeout" default:"8s"`

	// MaxAttempts is the total number of sends for one command before it
	// fails terminally.
	MaxAttempts int `yaml:"max_attempts" default:"3"`

	// WriteGap is the minimum spacing between consecutive characteristic
	// writes; the device misbehaves when commands arrive back to back.
	WriteGap time.Duration `yaml:"write_gap" default:"500ms"`
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	defaults.SetDefaults(c)
}

// Terminal command errors.
var (
	// ErrCommandTimeout is returned after MaxAttempts sends went unacked.
	ErrCommandTimeout = errors.New("command timed out")
	// ErrQueueClosed is returned for commands still pending when the
	// dispatcher shuts down.
	ErrQueueClosed = errors.New("command queue closed")
)

// pending is an owned command plus its completion channel.
type pending struct {
	cmd  *protocol.Command
	done chan error
}

func (p *pending) complete(err error) {
	select {
	case p.done <- err:
	default:
	}
}

// fifo is the queued-command list. Reboot commands jump to the front: a
// reboot invalidates the session anyway, so setpoint changes behind it can
// wait for the next one.
type fifo struct {
	items []*pending
}

func (q *fifo) push(p *pending) {
	if p.cmd.Kind == protocol.CmdReboot {
		q.items = append([]*pending{p}, q.items...)
		return
	}
	q.items = append(q.items, p)
}

// pushFront requeues a command ahead of everything enqueued meanwhile,
// preserving pre-disconnect ordering.
func (q *fifo) pushFront(ps ...*pending) {
	q.items = append(append([]*pending{}, ps...), q.items...)
}

func (q *fifo) pop() *pending {
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p
}

func (q *fifo) len() int { return len(q.items) }

// dropReboots removes queued reboot commands, completing them as no-ops.
// Used on session teardown: rebooting a device that already dropped its
// connection is meaningless.
func (q *fifo) dropReboots() int {
	kept := q.items[:0]
	dropped := 0
	for _, p := range q.items {
		if p.cmd.Kind == protocol.CmdReboot {
			p.complete(nil)
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	q.items = kept
	return dropped
}

func (q *fifo) failAll(err error) {
	for _, p := range q.items {
		p.complete(fmt.Errorf("%w: %s", err, p.cmd))
	}
	q.items = nil
}
