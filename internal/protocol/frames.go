// Package protocol implements the EasyTouch thermostat wire protocol: JSON
// status frames delivered as GATT notifications and JSON command frames
// written to the command characteristic.
package protocol

import (
	"fmt"
	"strings"
)

// GATT UUIDs used by the EasyTouch thermostat.
const (
	ServiceUUID  = "000000ff-0000-1000-8000-00805f9b34fb"
	StatusUUID   = "0000ff01-0000-1000-8000-00805f9b34fb" // notify: JSON status frames
	CommandUUID  = "0000ee01-0000-1000-8000-00805f9b34fb" // write: JSON command frames
	PasswordUUID = "0000dd01-0000-1000-8000-00805f9b34fb" // write: UTF-8 device password
)

// Mode is an HVAC operating mode as encoded on the wire.
type Mode uint8

const (
	ModeOff    Mode = 0
	ModeFan    Mode = 1
	ModeCool   Mode = 2
	ModeCoolOn Mode = 3 // cool mode, compressor currently running
	ModeHeat   Mode = 4
	ModeHeatOn Mode = 5 // heat mode, actively heating
	ModeAuto   Mode = 11
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeFan:
		return "fan"
	case ModeCool:
		return "cool"
	case ModeCoolOn:
		return "cool_on"
	case ModeHeat:
		return "heat"
	case ModeHeatOn:
		return "heat_on"
	case ModeAuto:
		return "auto"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Canonical collapses transient "actively running" modes into their settable
// counterparts (cool_on -> cool, heat_on -> heat).
func (m Mode) Canonical() Mode {
	switch m {
	case ModeCoolOn:
		return ModeCool
	case ModeHeatOn:
		return ModeHeat
	default:
		return m
	}
}

// ParseMode maps a user-facing mode name to its wire value.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return ModeOff, nil
	case "fan", "fan_only":
		return ModeFan, nil
	case "cool":
		return ModeCool, nil
	case "heat":
		return ModeHeat, nil
	case "auto":
		return ModeAuto, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (must be off, fan, cool, heat, or auto)", s)
	}
}

// FanMode is a fan setting as encoded on the wire. CycledLow and CycledHigh
// are reported by the device but are not accepted by ParseFanMode; most host
// climate abstractions cannot represent them.
type FanMode uint8

const (
	FanOff        FanMode = 0
	FanLow        FanMode = 1 // "manualL" in the vendor app
	FanHigh       FanMode = 2 // "manualH"
	FanCycledLow  FanMode = 65
	FanCycledHigh FanMode = 66
	FanAuto       FanMode = 128 // "full auto"
)

func (f FanMode) String() string {
	switch f {
	case FanOff:
		return "off"
	case FanLow:
		return "low"
	case FanHigh:
		return "high"
	case FanCycledLow:
		return "cycled_low"
	case FanCycledHigh:
		return "cycled_high"
	case FanAuto:
		return "auto"
	default:
		return fmt.Sprintf("fan(%d)", uint8(f))
	}
}

// ParseFanMode maps a user-facing fan mode name to its wire value.
func ParseFanMode(s string) (FanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return FanOff, nil
	case "low":
		return FanLow, nil
	case "high":
		return FanHigh, nil
	case "auto":
		return FanAuto, nil
	default:
		return 0, fmt.Errorf("unknown fan mode %q (must be off, low, high, or auto)", s)
	}
}

// SetpointKind identifies one of the device's five target temperatures.
type SetpointKind string

const (
	SetpointHeat     SetpointKind = "heat_sp"
	SetpointCool     SetpointKind = "cool_sp"
	SetpointDry      SetpointKind = "dry_sp"
	SetpointAutoHeat SetpointKind = "autoHeat_sp"
	SetpointAutoCool SetpointKind = "autoCool_sp"
)

// ParseSetpointKind maps a user-facing setpoint name to its wire key.
func ParseSetpointKind(s string) (SetpointKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heat", "heat_sp":
		return SetpointHeat, nil
	case "cool", "cool_sp":
		return SetpointCool, nil
	case "dry", "dry_sp":
		return SetpointDry, nil
	case "auto_heat", "autoheat_sp":
		return SetpointAutoHeat, nil
	case "auto_cool", "autocool_sp":
		return SetpointAutoCool, nil
	default:
		return "", fmt.Errorf("unknown setpoint %q (must be heat, cool, dry, auto_heat, or auto_cool)", s)
	}
}

// StatusFrame is a decoded zone status notification. Temperatures are
// integral degrees Fahrenheit, carried as float64 for the climate surface.
type StatusFrame struct {
	SerialNumber string

	FaceplateTemperature float64
	Mode                 Mode // mode the thermostat is set to
	CurrentMode          Mode // mode the thermostat is currently executing

	AutoHeatSetpoint float64
	AutoCoolSetpoint float64
	CoolSetpoint     float64
	HeatSetpoint     float64
	DrySetpoint      float64

	// Per-mode fan settings. The device keeps an independent fan setting for
	// each operating mode; only the one matching Mode is active.
	FanOnlyFan FanMode
	CoolFan    FanMode
	HeatFan    FanMode
	AutoFan    FanMode
}

// FanMode returns the fan setting that is active for the frame's set mode.
func (s *StatusFrame) FanMode() FanMode {
	switch s.Mode.Canonical() {
	case ModeCool:
		return s.CoolFan
	case ModeHeat:
		return s.HeatFan
	case ModeAuto:
		return s.AutoFan
	default:
		return s.FanOnlyFan
	}
}

// FieldKind identifies a single synchronized value within the device state.
type FieldKind string

const (
	FieldFaceplateTemperature FieldKind = "face_plate_temperature"
	FieldMode                 FieldKind = "mode"
	FieldCurrentMode          FieldKind = "current_mode"
	FieldFanMode              FieldKind = "fan_mode"
	FieldAutoHeatSetpoint     FieldKind = "autoHeat_sp"
	FieldAutoCoolSetpoint     FieldKind = "autoCool_sp"
	FieldCoolSetpoint         FieldKind = "cool_sp"
	FieldHeatSetpoint         FieldKind = "heat_sp"
	FieldDrySetpoint          FieldKind = "dry_sp"
)

// Field is one tagged value extracted from a status frame.
type Field struct {
	Kind  FieldKind
	Value interface{} // float64 for temperatures, Mode / FanMode for modes
}

// Fields explodes the frame into per-field updates in a fixed order, the
// shape the state synchronizer merges.
func (s *StatusFrame) Fields() []Field {
	return []Field{
		{FieldFaceplateTemperature, s.FaceplateTemperature},
		{FieldMode, s.Mode},
		{FieldCurrentMode, s.CurrentMode},
		{FieldFanMode, s.FanMode()},
		{FieldAutoHeatSetpoint, s.AutoHeatSetpoint},
		{FieldAutoCoolSetpoint, s.AutoCoolSetpoint},
		{FieldCoolSetpoint, s.CoolSetpoint},
		{FieldHeatSetpoint, s.HeatSetpoint},
		{FieldDrySetpoint, s.DrySetpoint},
	}
}
