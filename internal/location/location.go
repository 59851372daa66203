// Package location translates a geographic coordinate pair into the
// thermostat's location-configuration command. It is a pure validation and
// translation layer; it holds no state of its own.
package location

import (
	"fmt"

	"github.com/openrv/easytouch/internal/protocol"
)

// Validate checks a coordinate pair against the protocol bounds before any
// command is built. Anything finer than the device's five-decimal-place
// resolution is truncated on encode, not rejected.
func Validate(latitude, longitude float64) error {
	if latitude < protocol.MinLatitude || latitude > protocol.MaxLatitude {
		return fmt.Errorf("%w: latitude %g outside [%g,%g]",
			protocol.ErrOutOfRange, latitude, protocol.MinLatitude, protocol.MaxLatitude)
	}
	if longitude < protocol.MinLongitude || longitude > protocol.MaxLongitude {
		return fmt.Errorf("%w: longitude %g outside [%g,%g]",
			protocol.ErrOutOfRange, longitude, protocol.MinLongitude, protocol.MaxLongitude)
	}
	return nil
}

// Command builds the SetLocation command for a validated coordinate pair.
func Command(latitude, longitude float64) (*protocol.Command, error) {
	if err := Validate(latitude, longitude); err != nil {
		return nil, err
	}
	return &protocol.Command{
		Kind:      protocol.CmdSetLocation,
		Latitude:  latitude,
		Longitude: longitude,
	}, nil
}
