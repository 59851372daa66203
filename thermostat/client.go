// Package thermostat is the public client for Micro-Air EasyTouch RV
// thermostats over BLE. A Client maintains the connection, keeps a
// synchronized state snapshot, and serializes commands with respect for the
// device's slow response characteristics and its periodic involuntary
// disconnects (the vendor mobile app claiming the single BLE slot).
package thermostat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openrv/easytouch/internal/cmdqueue"
	"github.com/openrv/easytouch/internal/connmgr"
	"github.com/openrv/easytouch/internal/device"
	"github.com/openrv/easytouch/internal/location"
	"github.com/openrv/easytouch/internal/metrics"
	"github.com/openrv/easytouch/internal/protocol"
	"github.com/openrv/easytouch/internal/statesync"
)

// Re-exported protocol types forming the client's command surface.
type (
	Mode         = protocol.Mode
	FanMode      = protocol.FanMode
	SetpointKind = protocol.SetpointKind
	DeviceState  = statesync.DeviceState
	StateChange  = statesync.Change
	SessionState = connmgr.SessionState
)

// ErrStopped is returned by operations invoked after Close.
var ErrStopped = errors.New("client stopped")

// Options carries optional collaborators; zero value is production defaults.
type Options struct {
	Logger    *logrus.Logger
	Metrics   *metrics.Collector
	Transport device.Transport // nil selects the platform BLE transport
}

// Client is one thermostat's connection, state, and command pipeline.
type Client struct {
	cfg     *Config
	logger  *logrus.Logger
	metrics *metrics.Collector

	sync *statesync.Synchronizer
	disp *cmdqueue.Dispatcher
	mgr  *connmgr.Manager

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewClient wires a client for the configured device. Call Start to connect.
func NewClient(cfg *Config, opts *Options) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = device.Factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create BLE transport: %w", err)
		}
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		metrics: opts.Metrics,
		sync:    statesync.New(cfg.Address, logger),
		disp:    cmdqueue.NewDispatcher(cfg.Commands, logger, opts.Metrics),
	}
	c.mgr = connmgr.New(cfg.Address, cfg.Password, cfg.Connection, transport, connmgr.Handlers{
		OnFrame: c.handleFrame,
		OnEvent: c.handleEvent,
	}, logger, opts.Metrics)

	return c, nil
}

// Start launches the connection manager and dispatcher. It returns
// immediately; the connection is established (and re-established, forever)
// in the background.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.cancel != nil {
		return fmt.Errorf("client already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.disp.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.mgr.Run(runCtx)
	}()

	c.logger.WithField("address", c.cfg.Address).Info("Thermostat client started")
	return nil
}

// Close cancels all outstanding waits (connect attempts, command acks) and
// releases the transport. Pending commands fail with ErrQueueClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.logger.WithField("address", c.cfg.Address).Info("Thermostat client stopped")
	return nil
}

// Address returns the device's BLE address.
func (c *Client) Address() string {
	return c.cfg.Address
}

// GetState returns an independent snapshot of the device state. During
// disconnects the snapshot keeps the last-known values, flagged stale.
func (c *Client) GetState() DeviceState {
	return c.sync.Snapshot()
}

// OnStateChanged registers a callback for field-level state transitions,
// driving host entity updates without polling. The callback runs on the
// notification path and must not block.
func (c *Client) OnStateChanged(fn func(StateChange)) {
	c.sync.OnChange(fn)
}

// SessionState returns the connection manager's current state.
func (c *Client) SessionState() SessionState {
	return c.mgr.State()
}

// SetMode queues an HVAC mode change and waits for the device ack.
func (c *Client) SetMode(ctx context.Context, mode Mode) error {
	return c.disp.SubmitWait(ctx, &protocol.Command{Kind: protocol.CmdSetMode, Mode: mode})
}

// SetFanMode queues a fan mode change and waits for the device ack.
func (c *Client) SetFanMode(ctx context.Context, fan FanMode) error {
	return c.disp.SubmitWait(ctx, &protocol.Command{Kind: protocol.CmdSetFanMode, Fan: fan})
}

// SetSetpoint queues a target temperature change (°F) and waits for the
// device ack. Out-of-range values fail immediately without a transport
// write.
func (c *Client) SetSetpoint(ctx context.Context, kind SetpointKind, value float64) error {
	return c.disp.SubmitWait(ctx, &protocol.Command{
		Kind:     protocol.CmdSetSetpoint,
		Setpoint: kind,
		Value:    value,
	})
}

// Reboot queues a device reboot. Reboot commands jump the queue; commands
// behind them are preserved and dispatched on the post-reboot session.
func (c *Client) Reboot(ctx context.Context) error {
	return c.disp.SubmitWait(ctx, &protocol.Command{Kind: protocol.CmdReboot})
}

// SetLocation validates the coordinate pair and queues the device's
// location-configuration command.
func (c *Client) SetLocation(ctx context.Context, latitude, longitude float64) error {
	cmd, err := location.Command(latitude, longitude)
	if err != nil {
		return err
	}
	return c.disp.SubmitWait(ctx, cmd)
}

// handleFrame is the notification path: decode, merge, ack. Runs in BLE
// notification arrival order.
func (c *Client) handleFrame(data []byte, arrivedAt time.Time) {
	frame, err := protocol.Decode(data)
	if err != nil {
		// Malformed frames are dropped, counted, and never fatal.
		var derr *protocol.DecodeError
		if errors.As(err, &derr) {
			c.metrics.DecodeError(string(derr.Kind))
		}
		c.logger.WithError(err).WithField("len", len(data)).Debug("Dropping undecodable frame")
		return
	}
	c.metrics.FrameDecoded()

	seq := c.sync.NextSeq()
	c.sync.Apply(frame, seq, arrivedAt)

	// The device acks commands with a full status frame; the first one after
	// a write completes the in-flight command.
	c.disp.Acknowledge()
}

// handleEvent reacts to session transitions: attach/detach the dispatcher
// and keep the snapshot's availability flags truthful.
func (c *Client) handleEvent(ev connmgr.Event) {
	switch ev.State {
	case connmgr.StateActive:
		c.sync.SetConnected(true, false)
		c.disp.SessionActive(c.mgr.WriteCommand)
	case connmgr.StateDegraded:
		c.sync.SetConnected(true, true)
		c.disp.Pause()
	case connmgr.StateDisconnected:
		c.sync.SetConnected(false, true)
		c.disp.SessionDown()
	}
}
