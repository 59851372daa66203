package statesync_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrv/easytouch/internal/protocol"
	"github.com/openrv/easytouch/internal/statesync"
)

func frame(temp float64, mode protocol.Mode) *protocol.StatusFrame {
	return &protocol.StatusFrame{
		SerialNumber:         "12345",
		FaceplateTemperature: temp,
		Mode:                 mode,
		CurrentMode:          mode,
		HeatSetpoint:         68,
		CoolSetpoint:         74,
		DrySetpoint:          70,
		AutoHeatSetpoint:     66,
		AutoCoolSetpoint:     78,
		CoolFan:              protocol.FanAuto,
		HeatFan:              protocol.FanAuto,
		AutoFan:              protocol.FanAuto,
	}
}

func TestApply(t *testing.T) {
	s := statesync.New("AA:BB:CC:DD:EE:FF", nil)

	now := time.Now()
	s.Apply(frame(72, protocol.ModeCool), s.NextSeq(), now)

	st := s.Snapshot()
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", st.Address)
	assert.Equal(t, "12345", st.Serial)
	assert.Equal(t, now, st.LastSeen)
	assert.Equal(t, protocol.ModeCool, st.Mode())

	temp, ok := st.Float(protocol.FieldFaceplateTemperature)
	require.True(t, ok)
	assert.Equal(t, 72.0, temp)
}

func TestApplyStaleFrameNeverRegresses(t *testing.T) {
	s := statesync.New("AA:BB:CC:DD:EE:FF", nil)

	seqOld := s.NextSeq()
	seqNew := s.NextSeq()

	// Newer frame merges first, the older one arrives late.
	s.Apply(frame(75, protocol.ModeHeat), seqNew, time.Now())
	s.Apply(frame(72, protocol.ModeCool), seqOld, time.Now())

	st := s.Snapshot()
	temp, _ := st.Float(protocol.FieldFaceplateTemperature)
	assert.Equal(t, 75.0, temp, "stale frame must not overwrite a newer value")
	assert.Equal(t, protocol.ModeHeat, st.Mode())
}

func TestChangeNotifications(t *testing.T) {
	s := statesync.New("AA:BB:CC:DD:EE:FF", nil)

	var changes []statesync.Change
	s.OnChange(func(ch statesync.Change) { changes = append(changes, ch) })

	s.Apply(frame(72, protocol.ModeCool), s.NextSeq(), time.Now())
	firstBatch := len(changes)
	assert.NotZero(t, firstBatch, "initial frame populates every field")

	// Identical frame: no values changed, no notifications.
	s.Apply(frame(72, protocol.ModeCool), s.NextSeq(), time.Now())
	assert.Len(t, changes, firstBatch)

	// One field moves.
	s.Apply(frame(73, protocol.ModeCool), s.NextSeq(), time.Now())
	require.Len(t, changes, firstBatch+1)
	last := changes[len(changes)-1]
	assert.Equal(t, protocol.FieldFaceplateTemperature, last.Kind)
	assert.Equal(t, 72.0, last.Old)
	assert.Equal(t, 73.0, last.New)
}

func TestStateRetainedAcrossDisconnect(t *testing.T) {
	s := statesync.New("AA:BB:CC:DD:EE:FF", nil)

	s.SetConnected(true, false)
	s.Apply(frame(72, protocol.ModeCool), s.NextSeq(), time.Now())

	s.SetConnected(false, true)

	st := s.Snapshot()
	assert.False(t, st.Connected)
	assert.True(t, st.Stale)
	temp, ok := st.Float(protocol.FieldFaceplateTemperature)
	require.True(t, ok, "last-known values survive the disconnect")
	assert.Equal(t, 72.0, temp)
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := statesync.New("AA:BB:CC:DD:EE:FF", nil)
	s.Apply(frame(72, protocol.ModeCool), s.NextSeq(), time.Now())

	st := s.Snapshot()
	st.Fields[protocol.FieldFaceplateTemperature] = statesync.FieldValue{Value: 99.0}

	fresh := s.Snapshot()
	temp, _ := fresh.Float(protocol.FieldFaceplateTemperature)
	assert.Equal(t, 72.0, temp, "mutating a snapshot must not affect the synchronizer")
}

func TestAccessorDefaults(t *testing.T) {
	s := statesync.New("AA:BB:CC:DD:EE:FF", nil)
	st := s.Snapshot()

	_, ok := st.Float(protocol.FieldHeatSetpoint)
	assert.False(t, ok)
	assert.Equal(t, protocol.ModeOff, st.Mode())
	assert.Equal(t, protocol.FanAuto, st.FanMode())
}
