package protocol_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrv/easytouch/internal/protocol"
)

func TestEncodeSetMode(t *testing.T) {
	t.Run("powered mode", func(t *testing.T) {
		data, err := protocol.Encode(&protocol.Command{
			Kind: protocol.CmdSetMode,
			Mode: protocol.ModeCool,
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"Type":"Change","Changes":{"zone":0,"power":1,"mode":2}}`, string(data))
	})

	t.Run("off drops power", func(t *testing.T) {
		data, err := protocol.Encode(&protocol.Command{
			Kind: protocol.CmdSetMode,
			Mode: protocol.ModeOff,
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"Type":"Change","Changes":{"zone":0,"power":0,"mode":0}}`, string(data))
	})

	t.Run("transient modes encode as settable", func(t *testing.T) {
		data, err := protocol.Encode(&protocol.Command{
			Kind: protocol.CmdSetMode,
			Mode: protocol.ModeHeatOn,
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"Type":"Change","Changes":{"zone":0,"power":1,"mode":4}}`, string(data))
	})
}

func TestEncodeSetFanMode(t *testing.T) {
	data, err := protocol.Encode(&protocol.Command{
		Kind: protocol.CmdSetFanMode,
		Fan:  protocol.FanAuto,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Type":"Change","Changes":{"zone":0,"fanOnly":128}}`, string(data))
}

func TestEncodeSetSetpoint(t *testing.T) {
	t.Run("heat setpoint", func(t *testing.T) {
		data, err := protocol.Encode(&protocol.Command{
			Kind:     protocol.CmdSetSetpoint,
			Setpoint: protocol.SetpointHeat,
			Value:    68,
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"Type":"Change","Changes":{"zone":0,"power":1,"heat_sp":68}}`, string(data))
	})

	t.Run("rejects out-of-range values before any write", func(t *testing.T) {
		for _, v := range []float64{39, 100, -5, 1000} {
			_, err := protocol.Encode(&protocol.Command{
				Kind:     protocol.CmdSetSetpoint,
				Setpoint: protocol.SetpointCool,
				Value:    v,
			})
			assert.ErrorIs(t, err, protocol.ErrOutOfRange, "value %g", v)
		}
	})

	t.Run("accepts boundary values", func(t *testing.T) {
		for _, v := range []float64{protocol.MinSetpointF, protocol.MaxSetpointF} {
			_, err := protocol.Encode(&protocol.Command{
				Kind:     protocol.CmdSetSetpoint,
				Setpoint: protocol.SetpointCool,
				Value:    v,
			})
			assert.NoError(t, err, "value %g", v)
		}
	})
}

func TestEncodeReboot(t *testing.T) {
	data, err := protocol.Encode(&protocol.Command{Kind: protocol.CmdReboot})
	require.NoError(t, err)
	// The leading space in " OK" is what the firmware checks for.
	assert.JSONEq(t, `{"Type":"Change","Changes":{"zone":0,"reset":" OK"}}`, string(data))
}

func TestEncodeSetLocation(t *testing.T) {
	issued := time.Unix(1700000000, 0)

	t.Run("five decimal places on the wire", func(t *testing.T) {
		data, err := protocol.Encode(&protocol.Command{
			Kind:      protocol.CmdSetLocation,
			Latitude:  40.7128,
			Longitude: -74.006,
			IssuedAt:  issued,
		})
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"Type":"Get Status","Zone":0,"LAT":"40.71280","LON":"-74.00600","TM":1700000000}`,
			string(data))
	})

	t.Run("rejects out-of-range coordinates", func(t *testing.T) {
		_, err := protocol.Encode(&protocol.Command{
			Kind:     protocol.CmdSetLocation,
			Latitude: 91.0,
			IssuedAt: issued,
		})
		assert.ErrorIs(t, err, protocol.ErrOutOfRange)

		_, err = protocol.Encode(&protocol.Command{
			Kind:      protocol.CmdSetLocation,
			Longitude: -180.1,
			IssuedAt:  issued,
		})
		assert.ErrorIs(t, err, protocol.ErrOutOfRange)
	})
}

// A timed-out command is resent verbatim, so encoding the same command twice
// must yield identical bytes.
func TestEncodeDeterministic(t *testing.T) {
	cmds := []*protocol.Command{
		{Kind: protocol.CmdSetMode, Mode: protocol.ModeAuto},
		{Kind: protocol.CmdSetFanMode, Fan: protocol.FanLow},
		{Kind: protocol.CmdSetSetpoint, Setpoint: protocol.SetpointAutoCool, Value: 78},
		{Kind: protocol.CmdReboot},
		{Kind: protocol.CmdSetLocation, Latitude: 51.5, Longitude: -0.1, IssuedAt: time.Unix(1700000000, 0)},
	}
	for _, cmd := range cmds {
		first, err := protocol.Encode(cmd)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := protocol.Encode(cmd)
			require.NoError(t, err)
			assert.Equal(t, first, again, "command %s", cmd.Kind)
		}
	}
}

func TestEncodeUnknownKind(t *testing.T) {
	_, err := protocol.Encode(&protocol.Command{Kind: protocol.CommandKind("defrost")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defrost")
}

func TestCommandString(t *testing.T) {
	cmd := &protocol.Command{ID: 7, Kind: protocol.CmdSetSetpoint, Setpoint: protocol.SetpointHeat, Value: 68}
	assert.Equal(t, "#7 set_setpoint(heat_sp=68)", cmd.String())
	assert.Equal(t, "#0 reboot", fmt.Sprint(&protocol.Command{Kind: protocol.CmdReboot}))
}
