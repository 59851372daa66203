// Package scanner discovers EasyTouch thermostats by scanning BLE
// advertisements for the vendor service UUID.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/openrv/easytouch/internal/protocol"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceInfo is one discovered peripheral.
type DeviceInfo struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
	// EasyTouch reports whether the advertisement carried the vendor
	// service UUID. Filtered scans only ever emit EasyTouch devices.
	EasyTouch bool
}

type DeviceEvent struct {
	Type DeviceEventType
	Info DeviceInfo
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration time.Duration
	// All disables the EasyTouch service filter and reports every
	// advertiser, useful when a thermostat advertises without service UUIDs.
	All bool
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{Duration: 10 * time.Second}
}

// ScanDeviceFactory creates the ble.Device used for scanning (overridden in tests)
var ScanDeviceFactory = func() (blelib.Device, error) {
	return newScanDevice()
}

// Scanner handles BLE device discovery
type Scanner struct {
	devices *hashmap.Map[string, DeviceInfo]
	events  chan DeviceEvent
	logger  *logrus.Logger

	scanOptions *ScanOptions
}

// NewScanner creates a new EasyTouch scanner
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		events: make(chan DeviceEvent, 100),
		logger: logger,
	}
}

// Scan performs BLE discovery with provided options and returns the devices
// found, sorted by address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]DeviceInfo, error) {
	s.devices = hashmap.New[string, DeviceInfo]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	s.scanOptions = opts

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	dev, err := ScanDeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	blelib.SetDefaultDevice(dev)

	scanCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	err = dev.Scan(scanCtx, false, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	devices := make([]DeviceInfo, 0, s.devices.Len())
	s.devices.Range(func(_ string, value DeviceInfo) bool {
		devices = append(devices, value)
		return true
	})
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices, nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv blelib.Advertisement) {
	isEasyTouch := advertisesService(adv, protocol.ServiceUUID)
	if !isEasyTouch && !s.scanOptions.All {
		return
	}

	info := DeviceInfo{
		Address:     adv.Addr().String(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		EasyTouch:   isEasyTouch,
	}
	if info.Name == "" {
		info.Name = info.Address
	}

	_, existing := s.devices.Get(info.Address)
	s.devices.Set(info.Address, info)

	event := DeviceEvent{Info: info}
	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":    info.Name,
			"address":   info.Address,
			"rssi":      info.RSSI,
			"easytouch": info.EasyTouch,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	select {
	case s.events <- event:
	default:
		// Listener fell behind, drop the event; the device map keeps the
		// latest info either way.
	}
}

// advertisesService checks the advertised service list for a UUID, tolerating
// both 16-bit and 128-bit representations.
func advertisesService(adv blelib.Advertisement, uuid string) bool {
	want := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	for _, svc := range adv.Services() {
		got := strings.ToLower(strings.ReplaceAll(svc.String(), "-", ""))
		if got == want || strings.Contains(want, got) {
			return true
		}
	}
	return false
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events
}
