package mqttbridge

import (
	"encoding/json"
	"fmt"

	"github.com/openrv/easytouch/internal/protocol"
)

// deviceInfo is the shared device block linking the climate entity and the
// reboot button under one device card.
type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type climateDiscovery struct {
	Name     string     `json:"name"`
	UniqueID string     `json:"unique_id"`
	Device   deviceInfo `json:"device"`

	Modes    []string `json:"modes"`
	FanModes []string `json:"fan_modes"`

	AvailabilityTopic string `json:"availability_topic"`

	ModeStateTopic    string `json:"mode_state_topic"`
	ModeStateTemplate string `json:"mode_state_template"`
	ModeCommandTopic  string `json:"mode_command_topic"`

	ActionTopic    string `json:"action_topic"`
	ActionTemplate string `json:"action_template"`

	FanModeStateTopic    string `json:"fan_mode_state_topic"`
	FanModeStateTemplate string `json:"fan_mode_state_template"`
	FanModeCommandTopic  string `json:"fan_mode_command_topic"`

	CurrentTemperatureTopic    string `json:"current_temperature_topic"`
	CurrentTemperatureTemplate string `json:"current_temperature_template"`

	TemperatureStateTopic    string `json:"temperature_state_topic"`
	TemperatureStateTemplate string `json:"temperature_state_template"`
	TemperatureCommandTopic  string `json:"temperature_command_topic"`

	TemperatureLowStateTopic    string `json:"temperature_low_state_topic"`
	TemperatureLowStateTemplate string `json:"temperature_low_state_template"`
	TemperatureLowCommandTopic  string `json:"temperature_low_command_topic"`

	TemperatureHighStateTopic    string `json:"temperature_high_state_topic"`
	TemperatureHighStateTemplate string `json:"temperature_high_state_template"`
	TemperatureHighCommandTopic  string `json:"temperature_high_command_topic"`

	MinTemp         float64 `json:"min_temp"`
	MaxTemp         float64 `json:"max_temp"`
	TempStep        float64 `json:"temp_step"`
	TemperatureUnit string  `json:"temperature_unit"`
}

type buttonDiscovery struct {
	Name         string     `json:"name"`
	UniqueID     string     `json:"unique_id"`
	Device       deviceInfo `json:"device"`
	CommandTopic string     `json:"command_topic"`
	PayloadPress string     `json:"payload_press"`
	DeviceClass  string     `json:"device_class"`

	AvailabilityTopic string `json:"availability_topic"`
}

// publishDiscovery announces the climate entity and the reboot button on the
// Home Assistant discovery prefix. Configs are retained so entities survive
// host restarts.
func (b *Bridge) publishDiscovery() error {
	dev := deviceInfo{
		Identifiers:  []string{b.deviceID},
		Name:         "EasyTouch " + b.client.Address(),
		Manufacturer: "Micro-Air",
		Model:        "EasyTouch RV",
	}
	state := b.stateTopic()

	climate := climateDiscovery{
		Name:     "Thermostat",
		UniqueID: b.deviceID + "_climate",
		Device:   dev,

		Modes:    []string{"off", "fan_only", "cool", "heat", "auto"},
		FanModes: []string{"off", "low", "high", "auto"},

		AvailabilityTopic: b.availabilityTopic(),

		ModeStateTopic:    state,
		ModeStateTemplate: "{{ value_json.mode }}",
		ModeCommandTopic:  b.topic("mode", "set"),

		ActionTopic:    state,
		ActionTemplate: "{{ value_json.action }}",

		FanModeStateTopic:    state,
		FanModeStateTemplate: "{{ value_json.fan_mode }}",
		FanModeCommandTopic:  b.topic("fan", "set"),

		CurrentTemperatureTopic:    state,
		CurrentTemperatureTemplate: "{{ value_json.current_temperature }}",

		TemperatureStateTopic:    state,
		TemperatureStateTemplate: "{{ value_json.target_temperature }}",
		TemperatureCommandTopic:  b.topic("temperature", "set"),

		TemperatureLowStateTopic:    state,
		TemperatureLowStateTemplate: "{{ value_json.target_temp_low }}",
		TemperatureLowCommandTopic:  b.topic("temperature_low", "set"),

		TemperatureHighStateTopic:    state,
		TemperatureHighStateTemplate: "{{ value_json.target_temp_high }}",
		TemperatureHighCommandTopic:  b.topic("temperature_high", "set"),

		MinTemp:         protocol.MinSetpointF,
		MaxTemp:         protocol.MaxSetpointF,
		TempStep:        1,
		TemperatureUnit: "F",
	}

	button := buttonDiscovery{
		Name:              "Reboot",
		UniqueID:          b.deviceID + "_reboot",
		Device:            dev,
		CommandTopic:      b.topic("reboot", "set"),
		PayloadPress:      "PRESS",
		DeviceClass:       "restart",
		AvailabilityTopic: b.availabilityTopic(),
	}

	if err := b.publishConfig("climate", b.deviceID, climate); err != nil {
		return err
	}
	return b.publishConfig("button", b.deviceID+"_reboot", button)
}

func (b *Bridge) publishConfig(component, objectID string, cfg interface{}) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode %s discovery: %w", component, err)
	}
	topic := fmt.Sprintf("%s/%s/%s/config", b.cfg.DiscoveryPrefix, component, objectID)
	return b.publish(topic, data, true)
}
