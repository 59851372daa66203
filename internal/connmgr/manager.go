// Package connmgr owns the BLE link lifecycle: connect, discovery,
// authentication, notification subscription, liveness watching, and
// reconnect with jittered exponential backoff.
package connmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/openrv/easytouch/internal/device"
	"github.com/openrv/easytouch/internal/metrics"
	"github.com/openrv/easytouch/internal/protocol"
)

// Config holds the connection tuning knobs with their documented defaults.
type Config struct {
	// ConnectTimeout bounds one dial attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"20s"`

	// BackoffInitial and BackoffMax bound the reconnect delay; the delay
	// doubles per failed attempt and carries +/-BackoffJitter randomization.
	BackoffInitial time.Duration `yaml:"backoff_initial" default:"1s"`
	BackoffMax     time.Duration `yaml:"backoff_max" default:"1m"`
	BackoffJitter  float64       `yaml:"backoff_jitter" default:"0.2"`

	// LivenessWindow is the maximum telemetry gap before an Active session
	// is considered Degraded. The thermostat pushes status several times a
	// minute when healthy.
	LivenessWindow time.Duration `yaml:"liveness_window" default:"90s"`
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	defaults.SetDefaults(c)
}

// Handlers are the manager's outbound edges. OnFrame receives raw status
// notifications in arrival order; OnEvent receives session transitions.
// Both run on the manager's goroutines and must not block.
type Handlers struct {
	OnFrame func(data []byte, arrivedAt time.Time)
	OnEvent func(Event)
}

// Manager maintains the BLE connection to one thermostat, reconnecting
// forever until its context is canceled.
type Manager struct {
	address   string
	password  string
	cfg       Config
	transport device.Transport
	handlers  Handlers
	logger    *logrus.Logger
	metrics   *metrics.Collector

	sessionSeq uint64

	mu    sync.RWMutex
	state SessionState
	link  device.Link // current session's link, nil while disconnected

	// lastFrame is the unix-nano arrival time of the most recent
	// notification, read by the liveness watchdog.
	lastFrame atomic.Int64
}

// New creates a Manager; Run starts it. password may be empty for devices
// with authentication disabled.
func New(address, password string, cfg Config, transport device.Transport, h Handlers, logger *logrus.Logger, m *metrics.Collector) *Manager {
	cfg.Normalize()
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		address:   address,
		password:  password,
		cfg:       cfg,
		transport: transport,
		handlers:  h,
		logger:    logger,
		metrics:   m,
		state:     StateDisconnected,
	}
}

// State returns the current session state.
func (m *Manager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(sess *session, state SessionState, err error) {
	m.mu.Lock()
	sess.state = state
	m.state = state
	m.mu.Unlock()

	log := m.logger.WithFields(logrus.Fields{
		"session": sess.id,
		"state":   state,
	})
	if err != nil {
		log.WithError(err).Info("Session state changed")
	} else {
		log.Debug("Session state changed")
	}
	if m.handlers.OnEvent != nil {
		m.handlers.OnEvent(Event{Session: sess.id, State: state, Err: err})
	}
}

// Run connects and keeps reconnecting until ctx is canceled. A persistent
// inability to connect is not fatal: the manager stays in its backoff loop
// and the device shows as unavailable.
func (m *Manager) Run(ctx context.Context) {
	bo := &backoff{
		initial: m.cfg.BackoffInitial,
		max:     m.cfg.BackoffMax,
		jitter:  m.cfg.BackoffJitter,
	}

	for {
		if ctx.Err() != nil {
			return
		}

		reachedActive, err := m.runSession(ctx)
		if ctx.Err() != nil {
			return
		}
		if reachedActive {
			bo.reset()
		}

		delay := bo.next()
		m.logger.WithFields(logrus.Fields{
			"address": m.address,
			"delay":   delay,
		}).WithError(err).Info("Reconnecting after backoff")
		m.metrics.Reconnect()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runSession drives a single session from Connecting until the link drops or
// ctx is canceled. Returns whether the session reached Active, plus the
// terminating error. The link is released on every exit path.
func (m *Manager) runSession(ctx context.Context) (reachedActive bool, err error) {
	sess := &session{
		id:        atomic.AddUint64(&m.sessionSeq, 1),
		startedAt: time.Now(),
	}

	m.setState(sess, StateConnecting, nil)
	link, err := m.transport.Dial(ctx, m.address, &device.ConnectOptions{
		ConnectTimeout: m.cfg.ConnectTimeout,
		ServiceUUID:    protocol.ServiceUUID,
	})
	if err != nil {
		m.setState(sess, StateDisconnected, err)
		return false, err
	}
	m.mu.Lock()
	m.link = link
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.link = nil
		m.mu.Unlock()
		link.Close()
	}()

	m.setState(sess, StateDiscovering, nil)
	if err := link.Discover(); err != nil {
		m.setState(sess, StateDisconnected, err)
		return false, err
	}

	// Authenticate before subscribing; the device silently ignores
	// notifications setup from unauthenticated centrals.
	if m.password != "" {
		if err := link.Write(protocol.PasswordUUID, []byte(m.password)); err != nil {
			m.setState(sess, StateDisconnected, err)
			return false, err
		}
		m.logger.WithField("session", sess.id).Debug("Authentication sent")
	}

	m.lastFrame.Store(time.Now().UnixNano())
	if err := link.Subscribe(protocol.StatusUUID, func(data []byte) {
		m.lastFrame.Store(time.Now().UnixNano())
		if m.handlers.OnFrame != nil {
			m.handlers.OnFrame(data, time.Now())
		}
	}); err != nil {
		m.setState(sess, StateDisconnected, err)
		return false, err
	}
	m.setState(sess, StateSubscribed, nil)

	m.setState(sess, StateActive, nil)

	// Liveness watchdog: flips Active<->Degraded from telemetry arrival
	// times without tearing down the link.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go m.watchLiveness(watchCtx, sess)

	select {
	case <-ctx.Done():
		m.setState(sess, StateDisconnected, ctx.Err())
		return true, ctx.Err()
	case <-link.Disconnected():
		m.setState(sess, StateDisconnected, device.ErrNotConnected)
		return true, device.ErrNotConnected
	}
}

// watchLiveness marks the session Degraded when no telemetry arrives for a
// full liveness window, and restores Active when telemetry resumes.
func (m *Manager) watchLiveness(ctx context.Context, sess *session) {
	interval := m.cfg.LivenessWindow / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, m.lastFrame.Load())
			silent := time.Since(last)

			m.mu.RLock()
			state := sess.state
			m.mu.RUnlock()

			switch {
			case state == StateActive && silent > m.cfg.LivenessWindow:
				m.logger.WithFields(logrus.Fields{
					"session": sess.id,
					"silent":  silent.Round(time.Second),
				}).Warn("No telemetry within liveness window, marking degraded")
				m.metrics.Degraded()
				m.setState(sess, StateDegraded, nil)
			case state == StateDegraded && silent <= m.cfg.LivenessWindow:
				m.logger.WithField("session", sess.id).Info("Telemetry resumed")
				m.setState(sess, StateActive, nil)
			}
		}
	}
}

// WriteCommand writes encoded command bytes to the current session's command
// characteristic. It is the dispatcher's write function, valid only while
// the session is Active.
func (m *Manager) WriteCommand(data []byte) error {
	m.mu.RLock()
	link := m.link
	state := m.state
	m.mu.RUnlock()
	if link == nil || !state.dispatchable() {
		return device.ErrNotConnected
	}
	return link.Write(protocol.CommandUUID, data)
}
