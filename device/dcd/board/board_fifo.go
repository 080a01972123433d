//go:build dcd_fifo && !(dcd_fsdev || dcd_samd || dcd_nrf5x)

package board

import "github.com/ardnew/usbcore/device/dcd/fifo"

// Family names the compiled controller family.
const Family = "fifo"

// New returns a controller for port.
func New(port uint8) Device {
	return fifo.New(fifo.Config{Port: port})
}
