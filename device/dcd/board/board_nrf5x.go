//go:build dcd_nrf5x && !(dcd_fsdev || dcd_samd)

package board

import "github.com/ardnew/usbcore/device/dcd/nrf5x"

// Family names the compiled controller family.
const Family = "nrf5x"

// New returns a controller for port.
func New(port uint8) Device {
	return nrf5x.New(nrf5x.Config{Port: port})
}
