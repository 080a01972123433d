// Package samd models the SAMD21/SAMD51 USB device peripheral.
//
// Each endpoint direction owns a descriptor bank in RAM holding the buffer
// address and a PCKSIZE word: the max packet size as a 3-bit code, the
// byte count and the multi-packet size. The peripheral reads and writes the
// caller's buffer directly and chains packets itself, so the driver sees a
// single completion per transfer. The 14-bit count fields limit a transfer
// to 16383 bytes.
//
// SETUP packets land in a dedicated 8-byte buffer attached to bank 0 of
// endpoint 0 and are copied out before the event is raised. The suspend
// interrupt is only enabled once the device has been addressed, because the
// peripheral cannot tell a suspended bus from a floating one.
package samd
