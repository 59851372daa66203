package cmdqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openrv/easytouch/internal/metrics"
	"github.com/openrv/easytouch/internal/protocol"
)

// WriteFunc writes encoded command bytes to the current session's command
// characteristic. It is swapped on every reconnect.
type WriteFunc func(data []byte) error

// Dispatcher drains the command queue against the active session. Commands
// are issued one at a time: the next command is not sent until the current
// one is acknowledged or times out. While no session is active, commands
// accumulate; they are not dropped.
type Dispatcher struct {
	cfg     Config
	logger  *logrus.Logger
	metrics *metrics.Collector

	mu        sync.Mutex
	queue     fifo
	inflight  *pending
	write     WriteFunc // nil while no session is active
	lastWrite time.Time
	closed    bool

	nextID uint64

	wake chan struct{} // nudges the run loop after state changes
	acks chan struct{} // protocol-level ack arrivals
}

// NewDispatcher creates a stopped dispatcher; Run starts it.
func NewDispatcher(cfg Config, logger *logrus.Logger, m *metrics.Collector) *Dispatcher {
	cfg.Normalize()
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		wake:    make(chan struct{}, 1),
		acks:    make(chan struct{}, 8),
	}
}

// Submit enqueues a command and returns a channel that yields its terminal
// result: nil on ack, ErrCommandTimeout after retries are exhausted, an
// encode error for invalid values, or ErrQueueClosed on shutdown.
func (d *Dispatcher) Submit(cmd *protocol.Command) <-chan error {
	p := &pending{cmd: cmd, done: make(chan error, 1)}

	cmd.ID = atomic.AddUint64(&d.nextID, 1)
	cmd.IssuedAt = time.Now()

	// Reject malformed commands before they ever reach the queue.
	if _, err := protocol.Encode(cmd); err != nil {
		p.complete(err)
		return p.done
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		p.complete(ErrQueueClosed)
		return p.done
	}
	d.queue.push(p)
	queued := d.queue.len()
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"command": cmd.String(),
		"queued":  queued,
	}).Debug("Command enqueued")
	d.poke()
	return p.done
}

// SubmitWait is Submit plus waiting for the result, honoring ctx.
func (d *Dispatcher) SubmitWait(ctx context.Context, cmd *protocol.Command) error {
	select {
	case err := <-d.Submit(cmd):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionActive attaches the dispatcher to a freshly established session and
// resumes draining. Any commands requeued from the previous session go out
// first.
func (d *Dispatcher) SessionActive(write WriteFunc) {
	d.mu.Lock()
	d.write = write
	d.mu.Unlock()
	d.logger.Debug("Dispatcher attached to session")
	d.poke()
}

// Pause freezes dispatch without tearing session state down, used when the
// link degrades (telemetry stopped but the link is nominally open). The
// in-flight command is requeued at the front with its attempt count
// preserved; queued commands wait.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	d.write = nil
	if d.inflight != nil {
		d.queue.pushFront(d.inflight)
		d.inflight = nil
	}
	d.mu.Unlock()
	d.logger.Debug("Dispatcher paused")
	d.poke()
}

// SessionDown detaches from a torn-down session. The in-flight command (if
// any) is requeued at the front with its attempt count preserved and goes
// out first on the next session; queued reboots are discarded.
func (d *Dispatcher) SessionDown() {
	d.mu.Lock()
	d.write = nil
	inflight := d.inflight
	d.inflight = nil
	if inflight != nil {
		if inflight.cmd.Kind == protocol.CmdReboot {
			// The disconnect is the expected effect of a reboot.
			inflight.complete(nil)
			inflight = nil
		} else {
			d.queue.pushFront(inflight)
		}
	}
	dropped := d.queue.dropReboots()
	waiting := d.queue.len()
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"requeued":        inflight != nil,
		"reboots_dropped": dropped,
		"waiting":         waiting,
	}).Debug("Dispatcher detached from session")
	d.poke()
}

// Acknowledge reports a protocol-level ack for the in-flight command. The
// device does not echo command ids; the first status frame that arrives
// after a write acknowledges it. Calls with no in-flight command are normal
// (plain telemetry) and are ignored.
func (d *Dispatcher) Acknowledge() {
	select {
	case d.acks <- struct{}{}:
	default:
	}
}

// InflightID returns the id of the unacknowledged command, or 0.
func (d *Dispatcher) InflightID() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight == nil {
		return 0
	}
	return d.inflight.cmd.ID
}

// QueueLen returns the number of commands waiting behind the in-flight one.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.len()
}

func (d *Dispatcher) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run processes the queue until ctx is canceled. On exit every pending
// command fails with ErrQueueClosed; nothing is silently dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	var timeout *time.Timer
	var timeoutC <-chan time.Time

	stopTimeout := func() {
		if timeout != nil {
			timeout.Stop()
			timeout = nil
			timeoutC = nil
		}
	}
	defer stopTimeout()

	for {
		if d.dispatchNext() {
			stopTimeout()
			timeout = time.NewTimer(d.cfg.CommandTimeout)
			timeoutC = timeout.C
		}

		select {
		case <-ctx.Done():
			d.shutdown()
			return

		case <-d.wake:
			// Re-evaluate queue/session state at the top of the loop. If the
			// session dropped, the in-flight timer is obsolete.
			d.mu.Lock()
			noInflight := d.inflight == nil
			d.mu.Unlock()
			if noInflight {
				stopTimeout()
			}

		case <-d.acks:
			if d.completeInflight() {
				stopTimeout()
			}

		case <-timeoutC:
			stopTimeout()
			d.handleTimeout()
		}
	}
}

// dispatchNext sends the next queued command if the session is up and nothing
// is in flight. Returns true if a command was written and now awaits its ack.
func (d *Dispatcher) dispatchNext() bool {
	d.mu.Lock()
	if d.write == nil || d.inflight != nil || d.queue.len() == 0 {
		d.mu.Unlock()
		return false
	}

	// Device-imposed pacing between consecutive writes.
	if gap := d.cfg.WriteGap - time.Since(d.lastWrite); gap > 0 {
		d.mu.Unlock()
		time.Sleep(gap)
		d.mu.Lock()
		if d.write == nil || d.inflight != nil || d.queue.len() == 0 {
			d.mu.Unlock()
			return false
		}
	}

	p := d.queue.pop()
	write := d.write
	d.inflight = p
	d.lastWrite = time.Now()
	d.mu.Unlock()

	p.cmd.Attempts++
	data, err := protocol.Encode(p.cmd)
	if err != nil {
		// Validated at Submit; only reachable for kinds added without an
		// encoder, which is a programming error worth surfacing.
		d.clearInflight()
		p.complete(err)
		return false
	}

	log := d.logger.WithFields(logrus.Fields{
		"command": p.cmd.String(),
		"attempt": p.cmd.Attempts,
	})
	if err := write(data); err != nil {
		log.WithError(err).Warn("Characteristic write failed")
		d.metrics.CommandRetried()
		d.requeueOrFail(p)
		return false
	}

	log.Debug("Command written, awaiting ack")
	d.metrics.CommandSent()
	return true
}

// completeInflight resolves the in-flight command on ack. Returns true if a
// command was actually completed.
func (d *Dispatcher) completeInflight() bool {
	d.mu.Lock()
	p := d.inflight
	d.inflight = nil
	d.mu.Unlock()
	if p == nil {
		// Spurious or delayed ack across a timing window; not an error.
		d.logger.Debug("Ack with no in-flight command, ignoring")
		return false
	}
	d.logger.WithField("command", p.cmd.String()).Debug("Command acknowledged")
	d.metrics.CommandAcked()
	p.complete(nil)
	d.poke()
	return true
}

func (d *Dispatcher) handleTimeout() {
	d.mu.Lock()
	p := d.inflight
	d.inflight = nil
	d.mu.Unlock()
	if p == nil {
		return
	}
	d.logger.WithFields(logrus.Fields{
		"command": p.cmd.String(),
		"attempt": p.cmd.Attempts,
	}).Warn("Command ack timed out")
	d.metrics.CommandRetried()
	d.requeueOrFail(p)
}

// requeueOrFail puts a failed command back at the front of the queue, or
// fails it terminally once its attempts are exhausted.
func (d *Dispatcher) requeueOrFail(p *pending) {
	if p.cmd.Attempts >= d.cfg.MaxAttempts {
		d.logger.WithField("command", p.cmd.String()).Error("Command failed after retries")
		d.metrics.CommandFailed()
		p.complete(ErrCommandTimeout)
		d.poke()
		return
	}
	d.mu.Lock()
	d.queue.pushFront(p)
	d.mu.Unlock()
	d.poke()
}

func (d *Dispatcher) clearInflight() {
	d.mu.Lock()
	d.inflight = nil
	d.mu.Unlock()
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	d.closed = true
	inflight := d.inflight
	d.inflight = nil
	if inflight != nil {
		d.queue.pushFront(inflight)
	}
	d.queue.failAll(ErrQueueClosed)
	d.mu.Unlock()
	d.logger.Debug("Dispatcher stopped")
}
