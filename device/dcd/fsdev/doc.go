// Package fsdev models the STM32 full-speed device peripheral (FSDEV).
//
// The peripheral keeps every endpoint buffer in a dedicated packet memory
// area (PMA) reached through a buffer descriptor table (BTABLE) at the start
// of that memory. There are eight endpoint register slots; the IN and OUT
// halves of one endpoint number share a slot and must be of the same type,
// while an isochronous endpoint takes a whole slot and uses both buffer
// descriptors as a double buffer.
//
// Receive buffer sizes are written to the COUNTn_RX register as a block
// count: 2-byte blocks up to 62 bytes, 32-byte blocks above. The register
// reports the true byte count of the last packet, so the transfer length
// handed to the stack is never the rounded block size.
//
// Packets are chained in software: each correct-transfer (CTR) interrupt
// copies one packet between the PMA and the caller's buffer and re-arms the
// endpoint until the transfer is complete.
package fsdev
