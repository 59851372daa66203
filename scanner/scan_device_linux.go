//go:build linux

package scanner

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newScanDevice() (ble.Device, error) {
	return linux.NewDevice()
}
