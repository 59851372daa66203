package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// wireStatus mirrors the JSON document the thermostat pushes on the status
// characteristic. Zone state is a flat int array keyed by zone number.
type wireStatus struct {
	SN    json.RawMessage  `json:"SN"` // serial, sent as string or number depending on firmware
	ZSts  map[string][]int `json:"Z_sts"`
	Param []int            `json:"PRM"`
}

// serial normalizes the SN field to a plain string.
func (w *wireStatus) serial() string {
	return strings.Trim(string(bytes.TrimSpace(w.SN)), `"`)
}

// Indices into the zone status array. Reverse-engineered from the vendor
// protocol; gaps are fields with no known meaning.
const (
	idxAutoHeatSP  = 0
	idxAutoCoolSP  = 1
	idxCoolSP      = 2
	idxHeatSP      = 3
	idxDrySP       = 4
	idxFanOnlyFan  = 6
	idxCoolFan     = 7
	idxAutoFan     = 9
	idxMode        = 10
	idxHeatFan     = 11
	idxFaceplateT  = 12
	idxCurrentMode = 15

	// minimum zone array length for all fields above to be addressable
	zoneArrayLen = 16
)

// Decode parses a raw status notification into a StatusFrame. It is total
// over malformed input: truncated or syntactically incomplete JSON yields
// ErrTruncated, well-formed documents that are not zone status yield
// ErrUnknown.
func Decode(raw []byte) (*StatusFrame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Kind: DecodeTruncated, Msg: "empty frame"}
	}

	var status wireStatus
	if err := json.Unmarshal(trimmed, &status); err != nil {
		// "unexpected end of JSON input" means the notification was cut
		// short; anything else is a document we don't understand.
		var syn *json.SyntaxError
		if errors.As(err, &syn) && strings.Contains(syn.Error(), "unexpected end") {
			return nil, &DecodeError{Kind: DecodeTruncated, Msg: err.Error()}
		}
		return nil, &DecodeError{Kind: DecodeUnknown, Msg: err.Error()}
	}

	zone, ok := status.ZSts["0"]
	if !ok {
		return nil, &DecodeError{Kind: DecodeUnknown, Msg: "no zone 0 status"}
	}
	if len(zone) < zoneArrayLen {
		return nil, &DecodeError{
			Kind: DecodeTruncated,
			Msg:  fmt.Sprintf("zone status has %d fields, need %d", len(zone), zoneArrayLen),
		}
	}

	return &StatusFrame{
		SerialNumber:         status.serial(),
		FaceplateTemperature: float64(zone[idxFaceplateT]),
		Mode:                 Mode(zone[idxMode]),
		CurrentMode:          Mode(zone[idxCurrentMode]),
		AutoHeatSetpoint:     float64(zone[idxAutoHeatSP]),
		AutoCoolSetpoint:     float64(zone[idxAutoCoolSP]),
		CoolSetpoint:         float64(zone[idxCoolSP]),
		HeatSetpoint:         float64(zone[idxHeatSP]),
		DrySetpoint:          float64(zone[idxDrySP]),
		FanOnlyFan:           FanMode(zone[idxFanOnlyFan]),
		CoolFan:              FanMode(zone[idxCoolFan]),
		HeatFan:              FanMode(zone[idxHeatFan]),
		AutoFan:              FanMode(zone[idxAutoFan]),
	}, nil
}
