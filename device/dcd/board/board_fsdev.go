//go:build dcd_fsdev || !(dcd_samd || dcd_nrf5x || dcd_fifo)

package board

import "github.com/ardnew/usbcore/device/dcd/fsdev"

// Family names the compiled controller family.
const Family = "fsdev"

// New returns a controller for port.
func New(port uint8) Device {
	return fsdev.New(fsdev.Config{Port: port})
}
