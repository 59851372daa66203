package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
)

// normalizeUUID converts a UUID string to the internal BLE library format (lowercase, no dashes)
// Handles both standard UUID format (with dashes) and already normalized format (without dashes)
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// bleTransport implements Transport on top of go-ble.
type bleTransport struct {
	dev ble.Device
}

func newBLETransport() (Transport, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	return &bleTransport{dev: dev}, nil
}

// Dial connects to the peripheral. Service discovery is a separate step
// (Link.Discover) so callers can distinguish connect failures from
// discovery failures.
func (t *bleTransport) Dial(ctx context.Context, address string, opts *ConnectOptions) (Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is not set")
	}
	if opts == nil {
		opts = &ConnectOptions{}
	}
	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(fmt.Errorf("failed to connect to device with address %q: %w", address, err))
	}

	return &bleLink{
		client:      client,
		serviceUUID: opts.ServiceUUID,
	}, nil
}

// bleLink implements Link over one ble.Client.
type bleLink struct {
	client      ble.Client
	serviceUUID string

	mu     sync.Mutex
	chars  map[string]*ble.Characteristic
	closed bool
}

// Discover runs full profile discovery. Characteristic handles are
// session-local, so this runs on every new link; nothing is carried over
// from a previous session.
func (l *bleLink) Discover() error {
	profile, err := l.client.DiscoverProfile(true)
	if err != nil {
		return NormalizeError(fmt.Errorf("failed to discover profile: %w", err))
	}

	if l.serviceUUID != "" && !hasService(profile, l.serviceUUID) {
		return fmt.Errorf("service %q not found on device", l.serviceUUID)
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			chars[normalizeUUID(char.UUID.String())] = char
		}
	}

	l.mu.Lock()
	l.chars = chars
	l.mu.Unlock()
	return nil
}

func hasService(profile *ble.Profile, uuid string) bool {
	want := normalizeUUID(uuid)
	for _, svc := range profile.Services {
		if normalizeUUID(svc.UUID.String()) == want {
			return true
		}
	}
	return false
}

func (l *bleLink) characteristic(uuid string) (*ble.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.chars == nil {
		return nil, fmt.Errorf("%w: discovery has not run", ErrNotInitialized)
	}
	char, ok := l.chars[normalizeUUID(uuid)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCharacteristicUnavailable, uuid)
	}
	return char, nil
}

func (l *bleLink) Subscribe(charUUID string, handler func(data []byte)) error {
	char, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}
	if char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate == 0 {
		return fmt.Errorf("characteristic %q does not support notifications", charUUID)
	}
	if err := l.client.Subscribe(char, false, handler); err != nil {
		return NormalizeError(fmt.Errorf("failed to subscribe to %q: %w", charUUID, err))
	}
	return nil
}

func (l *bleLink) Write(charUUID string, data []byte) error {
	char, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}
	// Writes are serialized by the dispatcher's one-in-flight rule; the lock
	// only guards against a racing Close.
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrNotConnected
	}
	if err := l.client.WriteCharacteristic(char, data, false); err != nil {
		return NormalizeError(fmt.Errorf("failed to write characteristic %q: %w", charUUID, err))
	}
	return nil
}

func (l *bleLink) Disconnected() <-chan struct{} {
	return l.client.Disconnected()
}

func (l *bleLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.client.CancelConnection()
}
