package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandKind discriminates OutboundCommand payloads.
type CommandKind string

const (
	CmdSetMode     CommandKind = "set_mode"
	CmdSetFanMode  CommandKind = "set_fan_mode"
	CmdSetSetpoint CommandKind = "set_setpoint"
	CmdReboot      CommandKind = "reboot"
	CmdSetLocation CommandKind = "set_location"
)

// Temperature setpoint bounds accepted by the device, degrees Fahrenheit.
const (
	MinSetpointF = 40
	MaxSetpointF = 99
)

// Geographic bounds and resolution for SetLocation.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0

	// CoordinateResolution is the finest coordinate step the device accepts;
	// values are formatted with five decimal places on the wire.
	CoordinateResolution = 0.00001
)

// Command is a single outbound device command. Only the fields relevant to
// Kind are meaningful. Commands are owned by the dispatch queue from enqueue
// until ack, terminal failure, or session teardown.
type Command struct {
	ID   uint64
	Kind CommandKind

	Mode     Mode
	Fan      FanMode
	Setpoint SetpointKind
	Value    float64 // setpoint temperature, °F

	Latitude  float64
	Longitude float64

	IssuedAt time.Time
	Attempts int
}

func (c *Command) String() string {
	switch c.Kind {
	case CmdSetMode:
		return fmt.Sprintf("#%d %s(%s)", c.ID, c.Kind, c.Mode)
	case CmdSetFanMode:
		return fmt.Sprintf("#%d %s(%s)", c.ID, c.Kind, c.Fan)
	case CmdSetSetpoint:
		return fmt.Sprintf("#%d %s(%s=%g)", c.ID, c.Kind, c.Setpoint, c.Value)
	case CmdSetLocation:
		return fmt.Sprintf("#%d %s(%.5f,%.5f)", c.ID, c.Kind, c.Latitude, c.Longitude)
	default:
		return fmt.Sprintf("#%d %s", c.ID, c.Kind)
	}
}

// changeFrame is the {"Type":"Change","Changes":{...}} command envelope.
// Changes is a map so each command only carries the keys it sets; Go's JSON
// encoder sorts map keys, which keeps encoding deterministic for retries.
type changeFrame struct {
	Type    string         `json:"Type"`
	Changes map[string]int `json:"Changes"`
}

// locationFrame carries coordinates and a timestamp the thermostat uses for
// sunrise/sunset scheduling. Coordinates are fixed to five decimal places.
type locationFrame struct {
	Type      string `json:"Type"`
	Zone      int    `json:"Zone"`
	Latitude  string `json:"LAT"`
	Longitude string `json:"LON"`
	Timestamp int64  `json:"TM"`
}

// rebootFrame resets the thermostat controller. The " OK" marker (leading
// space included) is what the vendor firmware checks for.
type rebootFrame struct {
	Type    string        `json:"Type"`
	Changes rebootChanges `json:"Changes"`
}

type rebootChanges struct {
	Zone  int    `json:"zone"`
	Reset string `json:"reset"`
}

// Encode serializes a command into the bytes written to the command
// characteristic. Encoding is pure and deterministic: the same command always
// yields the same bytes, so a timed-out command can be resent verbatim.
// Out-of-range values are rejected here, before any transport write.
func Encode(cmd *Command) ([]byte, error) {
	switch cmd.Kind {
	case CmdSetMode:
		power := 1
		if cmd.Mode == ModeOff {
			power = 0
		}
		return json.Marshal(&changeFrame{
			Type: "Change",
			Changes: map[string]int{
				"zone":  0,
				"power": power,
				"mode":  int(cmd.Mode.Canonical()),
			},
		})

	case CmdSetFanMode:
		return json.Marshal(&changeFrame{
			Type: "Change",
			Changes: map[string]int{
				"zone":    0,
				"fanOnly": int(cmd.Fan),
			},
		})

	case CmdSetSetpoint:
		if cmd.Value < MinSetpointF || cmd.Value > MaxSetpointF {
			return nil, fmt.Errorf("%w: setpoint %g°F outside [%d,%d]",
				ErrOutOfRange, cmd.Value, MinSetpointF, MaxSetpointF)
		}
		return json.Marshal(&changeFrame{
			Type: "Change",
			Changes: map[string]int{
				"zone":              0,
				"power":             1,
				string(cmd.Setpoint): int(cmd.Value),
			},
		})

	case CmdReboot:
		return json.Marshal(&rebootFrame{
			Type:    "Change",
			Changes: rebootChanges{Zone: 0, Reset: " OK"},
		})

	case CmdSetLocation:
		if cmd.Latitude < MinLatitude || cmd.Latitude > MaxLatitude {
			return nil, fmt.Errorf("%w: latitude %g outside [%g,%g]",
				ErrOutOfRange, cmd.Latitude, MinLatitude, MaxLatitude)
		}
		if cmd.Longitude < MinLongitude || cmd.Longitude > MaxLongitude {
			return nil, fmt.Errorf("%w: longitude %g outside [%g,%g]",
				ErrOutOfRange, cmd.Longitude, MinLongitude, MaxLongitude)
		}
		return json.Marshal(&locationFrame{
			Type:      "Get Status",
			Zone:      0,
			Latitude:  fmt.Sprintf("%.5f", cmd.Latitude),
			Longitude: fmt.Sprintf("%.5f", cmd.Longitude),
			Timestamp: cmd.IssuedAt.Unix(),
		})

	default:
		return nil, fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
}
