//go:build darwin

package scanner

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

func newScanDevice() (ble.Device, error) {
	return darwin.NewDevice()
}
