// Package mqttbridge exposes a thermostat client over MQTT with Home
// Assistant discovery, so the device shows up as a climate entity (plus a
// reboot button) without any host-side configuration.
package mqttbridge

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/openrv/easytouch/internal/protocol"
	"github.com/openrv/easytouch/thermostat"
)

// Config is the broker connection and topic layout.
type Config struct {
	BrokerURL string `yaml:"broker_url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	TLS       bool   `yaml:"tls"`

	// BaseTopic prefixes the bridge's own state and command topics.
	BaseTopic string `yaml:"base_topic" default:"easytouch"`
	// DiscoveryPrefix is where Home Assistant listens for entity configs.
	DiscoveryPrefix string `yaml:"discovery_prefix" default:"homeassistant"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	// CommandTimeout bounds how long an MQTT-initiated command waits for the
	// device ack before the failure is logged.
	CommandTimeout time.Duration `yaml:"command_timeout" default:"45s"`
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	d := &Config{}
	defaults.SetDefaults(d)
	if c.BaseTopic == "" {
		c.BaseTopic = d.BaseTopic
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = d.DiscoveryPrefix
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
}

// Validate checks the broker configuration.
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("broker_url is required")
	}
	return nil
}

// Bridge publishes one thermostat's state over MQTT and executes commands
// received on its command topics.
type Bridge struct {
	cfg    Config
	client *thermostat.Client
	logger *logrus.Logger

	deviceID string
	mqtt     mqtt.Client

	mu   sync.Mutex
	subs map[string]func([]byte)

	// stateDirty coalesces bursts of field changes into one publish.
	stateDirty chan struct{}
}

// New creates a bridge for the client. Call Run to connect and serve.
func New(cfg Config, client *thermostat.Client, logger *logrus.Logger) (*Bridge, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{
		cfg:        cfg,
		client:     client,
		logger:     logger,
		deviceID:   deviceID(client.Address()),
		subs:       make(map[string]func([]byte)),
		stateDirty: make(chan struct{}, 1),
	}, nil
}

// deviceID turns a BLE address into a topic- and entity-safe identifier.
func deviceID(address string) string {
	id := strings.ToLower(address)
	id = strings.NewReplacer(":", "", "-", "", ".", "").Replace(id)
	if id == "" {
		id = "easytouch"
	}
	return "easytouch_" + id
}

func (b *Bridge) topic(parts ...string) string {
	return b.cfg.BaseTopic + "/" + b.deviceID + "/" + strings.Join(parts, "/")
}

func (b *Bridge) stateTopic() string        { return b.topic("state") }
func (b *Bridge) availabilityTopic() string { return b.topic("availability") }

// Run connects to the broker, announces the device, and serves until ctx is
// cancelled. The broker connection auto-reconnects; device availability is
// reported on the availability topic, not by dropping the broker session.
func (b *Bridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	if b.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.AddBroker(b.cfg.BrokerURL)
	opts.SetUsername(b.cfg.Username)
	opts.SetPassword(b.cfg.Password)
	opts.SetClientID(randomClientID(b.deviceID))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(b.cfg.ConnectTimeout)
	opts.SetWill(b.availabilityTopic(), "offline", 0, true)
	opts.SetDefaultPublishHandler(b.dispatch)
	opts.OnConnect = func(_ mqtt.Client) {
		b.logger.WithField("broker", b.cfg.BrokerURL).Info("Connected to MQTT broker")
		b.resubscribeAll()
		if err := b.publishDiscovery(); err != nil {
			b.logger.WithError(err).Warn("Failed to publish discovery configs")
		}
		b.markDirty()
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	b.mqtt = client
	defer func() {
		_ = b.publish(b.availabilityTopic(), []byte("offline"), true)
		client.Disconnect(250)
	}()

	b.registerCommandTopics()
	b.client.OnStateChanged(func(thermostat.StateChange) { b.markDirty() })

	// Availability tracks the BLE session, polled because session transitions
	// matter even when no field changes.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastAvail := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stateDirty:
			b.publishState()
		case <-ticker.C:
			avail := "offline"
			if st := b.client.GetState(); st.Connected && !st.Stale {
				avail = "online"
			}
			if avail != lastAvail {
				lastAvail = avail
				if err := b.publish(b.availabilityTopic(), []byte(avail), true); err != nil {
					b.logger.WithError(err).Warn("Failed to publish availability")
					lastAvail = ""
				}
			}
		}
	}
}

func (b *Bridge) markDirty() {
	select {
	case b.stateDirty <- struct{}{}:
	default:
	}
}

func (b *Bridge) publish(topic string, payload []byte, retain bool) error {
	if token := b.mqtt.Publish(topic, 0, retain, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (b *Bridge) subscribe(topic string, cb func([]byte)) {
	b.mu.Lock()
	b.subs[topic] = cb
	b.mu.Unlock()
	if token := b.mqtt.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
		b.logger.WithError(token.Error()).WithField("topic", topic).Warn("Subscribe failed")
	}
}

func (b *Bridge) dispatch(_ mqtt.Client, msg mqtt.Message) {
	b.mu.Lock()
	cb := b.subs[msg.Topic()]
	b.mu.Unlock()
	if cb != nil {
		cb(msg.Payload())
	}
}

func (b *Bridge) resubscribeAll() {
	b.mu.Lock()
	topics := make([]string, 0, len(b.subs))
	for topic := range b.subs {
		topics = append(topics, topic)
	}
	b.mu.Unlock()
	for _, topic := range topics {
		_ = b.mqtt.Subscribe(topic, 0, nil).Wait()
	}
}

// statePayload is the retained JSON document the climate entity reads.
type statePayload struct {
	Mode               string   `json:"mode"`
	Action             string   `json:"action"`
	FanMode            string   `json:"fan_mode"`
	CurrentTemperature *float64 `json:"current_temperature,omitempty"`
	TargetTemperature  *float64 `json:"target_temperature,omitempty"`
	TargetTempLow      *float64 `json:"target_temp_low,omitempty"`
	TargetTempHigh     *float64 `json:"target_temp_high,omitempty"`
	Serial             string   `json:"serial,omitempty"`
}

// haMode maps a wire mode to Home Assistant's climate mode vocabulary.
func haMode(m protocol.Mode) string {
	switch m.Canonical() {
	case protocol.ModeFan:
		return "fan_only"
	case protocol.ModeCool:
		return "cool"
	case protocol.ModeHeat:
		return "heat"
	case protocol.ModeAuto:
		return "auto"
	default:
		return "off"
	}
}

// haAction reports what the unit is doing right now, from the transient
// current-mode the device publishes alongside the set mode.
func haAction(set, current protocol.Mode) string {
	switch current {
	case protocol.ModeCoolOn:
		return "cooling"
	case protocol.ModeHeatOn:
		return "heating"
	case protocol.ModeFan:
		return "fan"
	}
	if set == protocol.ModeOff {
		return "off"
	}
	return "idle"
}

func (b *Bridge) publishState() {
	st := b.client.GetState()

	payload := statePayload{
		Mode:    haMode(st.Mode()),
		Action:  haAction(st.Mode(), st.CurrentMode()),
		FanMode: st.FanMode().String(),
		Serial:  st.Serial,
	}
	if v, ok := st.Float(protocol.FieldFaceplateTemperature); ok {
		payload.CurrentTemperature = &v
	}
	switch st.Mode().Canonical() {
	case protocol.ModeCool:
		if v, ok := st.Float(protocol.FieldCoolSetpoint); ok {
			payload.TargetTemperature = &v
		}
	case protocol.ModeHeat:
		if v, ok := st.Float(protocol.FieldHeatSetpoint); ok {
			payload.TargetTemperature = &v
		}
	case protocol.ModeAuto:
		if v, ok := st.Float(protocol.FieldAutoHeatSetpoint); ok {
			payload.TargetTempLow = &v
		}
		if v, ok := st.Float(protocol.FieldAutoCoolSetpoint); ok {
			payload.TargetTempHigh = &v
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.WithError(err).Warn("Failed to encode state payload")
		return
	}
	if err := b.publish(b.stateTopic(), data, true); err != nil {
		b.logger.WithError(err).Warn("Failed to publish state")
	}
}

func (b *Bridge) registerCommandTopics() {
	b.subscribe(b.topic("mode", "set"), b.handleModeSet)
	b.subscribe(b.topic("fan", "set"), b.handleFanSet)
	b.subscribe(b.topic("temperature", "set"), b.handleTemperatureSet)
	b.subscribe(b.topic("temperature_low", "set"), b.setpointHandler(protocol.SetpointAutoHeat))
	b.subscribe(b.topic("temperature_high", "set"), b.setpointHandler(protocol.SetpointAutoCool))
	b.subscribe(b.topic("reboot", "set"), b.handleReboot)
}

// run executes a device command off the MQTT callback goroutine, logging
// instead of replying: MQTT commands are fire-and-forget from the host's
// point of view, the retained state topic reflects the eventual outcome.
func (b *Bridge) run(what string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			b.logger.WithError(err).WithField("command", what).Warn("MQTT command failed")
			// Republish so the entity snaps back to the device's real state
			// instead of showing the optimistic value.
			b.markDirty()
		}
	}()
}

func (b *Bridge) handleModeSet(payload []byte) {
	raw := strings.TrimSpace(string(payload))
	mode, err := protocol.ParseMode(raw)
	if err != nil {
		b.logger.WithError(err).Warn("Rejected MQTT mode command")
		return
	}
	b.run("set_mode", func(ctx context.Context) error {
		return b.client.SetMode(ctx, mode)
	})
}

func (b *Bridge) handleFanSet(payload []byte) {
	raw := strings.TrimSpace(string(payload))
	fan, err := protocol.ParseFanMode(raw)
	if err != nil {
		b.logger.WithError(err).Warn("Rejected MQTT fan command")
		return
	}
	b.run("set_fan_mode", func(ctx context.Context) error {
		return b.client.SetFanMode(ctx, fan)
	})
}

// handleTemperatureSet routes a single-target temperature to the setpoint of
// the currently set mode.
func (b *Bridge) handleTemperatureSet(payload []byte) {
	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		b.logger.WithError(err).Warn("Rejected MQTT temperature command")
		return
	}
	var kind protocol.SetpointKind
	st := b.client.GetState()
	switch st.Mode().Canonical() {
	case protocol.ModeCool:
		kind = protocol.SetpointCool
	case protocol.ModeHeat:
		kind = protocol.SetpointHeat
	default:
		b.logger.WithField("value", value).Warn("Ignoring temperature command: no single setpoint in current mode")
		return
	}
	b.run("set_setpoint", func(ctx context.Context) error {
		return b.client.SetSetpoint(ctx, kind, value)
	})
}

func (b *Bridge) setpointHandler(kind protocol.SetpointKind) func([]byte) {
	return func(payload []byte) {
		value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if err != nil {
			b.logger.WithError(err).Warn("Rejected MQTT temperature command")
			return
		}
		b.run("set_setpoint", func(ctx context.Context) error {
			return b.client.SetSetpoint(ctx, kind, value)
		})
	}
}

func (b *Bridge) handleReboot(payload []byte) {
	if strings.TrimSpace(string(payload)) != "PRESS" {
		return
	}
	b.run("reboot", func(ctx context.Context) error {
		return b.client.Reboot(ctx)
	})
}

func randomClientID(prefix string) string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	return prefix + "-" + base64.RawURLEncoding.EncodeToString(nonce)
}
