//go:build dcd_samd && !dcd_fsdev

package board

import "github.com/ardnew/usbcore/device/dcd/samd"

// Family names the compiled controller family.
const Family = "samd"

// New returns a controller for port.
func New(port uint8) Device {
	return samd.New(samd.Config{Port: port})
}
