// Package device abstracts the BLE central the thermostat client runs on.
// The production implementation wraps go-ble; tests substitute a scripted
// fake through the Factory variable.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout                   = errors.New("timeout")
	ErrCharacteristicUnavailable = errors.New("characteristic not found")
)

// NormalizeError maps known go-ble error strings to structured ConnectionError types.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case strings.Contains(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case strings.Contains(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// ConnectOptions configures link establishment.
type ConnectOptions struct {
	ConnectTimeout time.Duration

	// ServiceUUID is the service whose presence validates discovery. Full
	// profile discovery still runs on every connect; characteristic handles
	// are never assumed stable across sessions.
	ServiceUUID string
}

// Link is one established BLE connection to a thermostat. A Link is single
// use: once closed or dropped it cannot be reused, a new one must be dialed.
type Link interface {
	// Discover runs service/characteristic discovery. Must complete before
	// Subscribe or Write; discovered handles are valid for this link only.
	Discover() error

	// Subscribe registers a notification handler for a characteristic. The
	// data slice passed to the handler is only valid for the duration of
	// the callback.
	Subscribe(charUUID string, handler func(data []byte)) error

	// Write writes data to a characteristic, waiting for the transport-level
	// (not protocol-level) acknowledgment.
	Write(charUUID string, data []byte) error

	// Disconnected returns a channel that is closed when the underlying link
	// drops, whether through Close or the peripheral going away.
	Disconnected() <-chan struct{}

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Transport dials BLE links. One Transport is shared per process.
type Transport interface {
	Dial(ctx context.Context, address string, opts *ConnectOptions) (Link, error)
}

// Factory creates the process-wide Transport (can be overridden in tests)
var Factory = func() (Transport, error) {
	return newBLETransport()
}
