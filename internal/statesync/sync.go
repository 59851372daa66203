package statesync

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openrv/easytouch/internal/protocol"
)

// Change describes one field transition delivered to subscribers.
type Change struct {
	Kind protocol.FieldKind
	Old  interface{} // nil if the field was previously unset
	New  interface{}
}

// Synchronizer merges decoded status frames into a DeviceState. Frames are
// applied in notification arrival order; each frame gets a monotonically
// increasing sequence and a field is never overwritten by a frame with a
// lower sequence than the one that set it.
type Synchronizer struct {
	logger *logrus.Logger

	mu    sync.RWMutex
	state DeviceState
	seq   uint64

	subMu sync.RWMutex
	subs  []func(Change)
}

// New creates a Synchronizer for the device at address. The state persists
// for the Synchronizer's lifetime: it is retained, stale but intact, across
// disconnects.
func New(address string, logger *logrus.Logger) *Synchronizer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Synchronizer{
		logger: logger,
		state: DeviceState{
			Address: address,
			Fields:  make(map[protocol.FieldKind]FieldValue),
		},
	}
}

// NextSeq issues the arrival sequence for a frame. Called by the connection
// manager in notification order, before handing the frame to Apply.
func (s *Synchronizer) NextSeq() uint64 {
	return atomic.AddUint64(&s.seq, 1)
}

// Apply merges one decoded frame into the state. Fields already set by a
// frame with a sequence >= seq are left untouched, so a stale out-of-order
// frame can never regress a value.
func (s *Synchronizer) Apply(frame *protocol.StatusFrame, seq uint64, arrivedAt time.Time) {
	var changes []Change

	s.mu.Lock()
	s.state.LastSeen = arrivedAt
	if frame.SerialNumber != "" {
		s.state.Serial = frame.SerialNumber
	}
	for _, f := range frame.Fields() {
		prev, seen := s.state.Fields[f.Kind]
		if seen && prev.Seq > seq {
			// Older frame arrived late, keep the newer value.
			continue
		}
		s.state.Fields[f.Kind] = FieldValue{Value: f.Value, Seq: seq, UpdatedAt: arrivedAt}
		if !seen || prev.Value != f.Value {
			var old interface{}
			if seen {
				old = prev.Value
			}
			changes = append(changes, Change{Kind: f.Kind, Old: old, New: f.Value})
		}
	}
	s.mu.Unlock()

	for _, ch := range changes {
		s.logger.WithFields(logrus.Fields{
			"field": ch.Kind,
			"old":   ch.Old,
			"new":   ch.New,
		}).Debug("Device state field changed")
		s.notify(ch)
	}
}

// SetConnected records link availability. The snapshot keeps its last-known
// field values either way, so the host sees stale data instead of blanks.
func (s *Synchronizer) SetConnected(connected, stale bool) {
	s.mu.Lock()
	s.state.Connected = connected
	s.state.Stale = stale
	s.mu.Unlock()
}

// Snapshot returns an independent copy of the current state.
func (s *Synchronizer) Snapshot() DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// OnChange registers a callback invoked for every field transition. The
// callback runs on the notification path and must not block.
func (s *Synchronizer) OnChange(fn func(Change)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Synchronizer) notify(ch Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		fn(ch)
	}
}
