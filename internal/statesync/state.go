// Package statesync reconciles decoded telemetry frames into a single
// coherent device-state snapshot and notifies subscribers about changes.
package statesync

import (
	"time"

	"github.com/openrv/easytouch/internal/protocol"
)

// FieldValue is one synchronized sensor value together with its provenance.
type FieldValue struct {
	Value     interface{} // float64, protocol.Mode or protocol.FanMode
	Seq       uint64      // arrival sequence of the frame that set it
	UpdatedAt time.Time
}

// DeviceState is the synchronized snapshot exposed to the host layer. It is
// always handed out by value with a copied field map, so readers never
// observe a torn update.
type DeviceState struct {
	Address   string
	Serial    string
	Connected bool
	Stale     bool // link degraded: last-known values, telemetry has stopped
	LastSeen  time.Time

	Fields map[protocol.FieldKind]FieldValue
}

// Float returns a temperature-like field, or ok=false if it was never seen.
func (s *DeviceState) Float(kind protocol.FieldKind) (float64, bool) {
	fv, ok := s.Fields[kind]
	if !ok {
		return 0, false
	}
	v, ok := fv.Value.(float64)
	return v, ok
}

// Mode returns the set HVAC mode, defaulting to off if never seen.
func (s *DeviceState) Mode() protocol.Mode {
	if fv, ok := s.Fields[protocol.FieldMode]; ok {
		if m, ok := fv.Value.(protocol.Mode); ok {
			return m
		}
	}
	return protocol.ModeOff
}

// CurrentMode returns the actively executing HVAC mode.
func (s *DeviceState) CurrentMode() protocol.Mode {
	if fv, ok := s.Fields[protocol.FieldCurrentMode]; ok {
		if m, ok := fv.Value.(protocol.Mode); ok {
			return m
		}
	}
	return protocol.ModeOff
}

// FanMode returns the fan setting for the set mode, defaulting to auto.
func (s *DeviceState) FanMode() protocol.FanMode {
	if fv, ok := s.Fields[protocol.FieldFanMode]; ok {
		if f, ok := fv.Value.(protocol.FanMode); ok {
			return f
		}
	}
	return protocol.FanAuto
}

func (s *DeviceState) clone() DeviceState {
	out := *s
	out.Fields = make(map[protocol.FieldKind]FieldValue, len(s.Fields))
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	return out
}
