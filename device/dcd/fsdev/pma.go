package fsdev

import (
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

const (
	btableEntrySize = 8    // ADDR_TX, COUNT_TX, ADDR_RX, COUNT_RX
	maxBufferSize   = 1024 // largest size COUNTn_RX can encode
)

// Receive size encoding in COUNTn_RX.
const (
	rxBlSize    = 1 << 15
	rxNumBlkPos = 10
	rxNumBlkMsk = 0x1F << rxNumBlkPos
	rxCountMask = 0x3FF
)

// alignBufferSize rounds size up to the block granularity the receive
// counter can express and returns the rounded size with the block fields.
func alignBufferSize(size int) (aligned int, blsize int, numBlock int) {
	if size > 62 {
		numBlock = (size + 31) / 32
		return numBlock * 32, 1, numBlock
	}
	numBlock = (size + 1) / 2
	return numBlock * 2, 0, numBlock
}

// encodeRxSize returns the COUNTn_RX block fields for a receive buffer of
// size bytes. A zero encoding is invalid, so it becomes one 32-byte block.
func encodeRxSize(size int) uint16 {
	_, blsize, numBlock := alignBufferSize(size)
	reg := uint16(blsize)<<15 | uint16(numBlock-blsize)<<rxNumBlkPos
	if reg == 0 {
		reg = rxBlSize
	}
	return reg
}

// decodeRxSize returns the receive capacity encoded in a COUNTn_RX value.
func decodeRxSize(reg uint16) int {
	n := int(reg&rxNumBlkMsk) >> rxNumBlkPos
	if reg&rxBlSize != 0 {
		return (n + 1) * 32
	}
	return n * 2
}

// pma is the packet memory with its bump allocator. Allocations are cached
// per endpoint address and released wholesale once only endpoint 0 is open.
type pma struct {
	mem  []byte
	base uint16 // first byte after the BTABLE
	next uint16 // first free byte
	open int    // open endpoint directions holding memory

	addr [dcd.MaxEndpoints][2]uint16
	size [dcd.MaxEndpoints][2]uint16
}

func newPMA(size, slots int) *pma {
	p := &pma{
		mem:  make([]byte, size),
		base: uint16(slots * btableEntrySize),
	}
	p.reset()
	return p
}

func (p *pma) reset() {
	p.next = p.base
	p.open = 0
	p.addr = [dcd.MaxEndpoints][2]uint16{}
	p.size = [dcd.MaxEndpoints][2]uint16{}
}

// alloc reserves length bytes for ep. A second allocation for the same
// endpoint reuses the first one and must not be larger.
func (p *pma) alloc(ep uint8, length int) (uint16, error) {
	num, dir := dcd.EdptNumber(ep), dcd.EdptDir(ep)
	if p.size[num][dir] != 0 {
		if length > int(p.size[num][dir]) {
			return 0, pkg.ErrNoMemory
		}
		return p.addr[num][dir], nil
	}

	length = (length + 1) &^ 1
	if int(p.next)+length > len(p.mem) {
		return 0, pkg.ErrNoMemory
	}

	addr := p.next
	p.next += uint16(length)
	p.open++
	p.addr[num][dir] = addr
	p.size[num][dir] = uint16(length)
	return addr, nil
}

// free releases the allocation of ep. Memory is only reclaimed once the two
// endpoint 0 buffers are the last ones left.
func (p *pma) free(ep uint8, ep0Size int) {
	num, dir := dcd.EdptNumber(ep), dcd.EdptDir(ep)
	if num == 0 || p.size[num][dir] == 0 {
		return
	}
	p.size[num][dir] = 0
	p.addr[num][dir] = 0
	p.open--

	if p.open == 2 {
		p.next = p.base + uint16(2*ep0Size)
		for i := 1; i < dcd.MaxEndpoints; i++ {
			p.addr[i] = [2]uint16{}
			p.size[i] = [2]uint16{}
		}
	}
}

// available returns the unallocated bytes.
func (p *pma) available() int {
	return len(p.mem) - int(p.next)
}

func (p *pma) write(addr uint16, data []byte) {
	copy(p.mem[addr:], data)
}

func (p *pma) read(addr uint16, n int) []byte {
	out := make([]byte, n)
	copy(out, p.mem[addr:int(addr)+n])
	return out
}

// stat is an STAT_TX / STAT_RX field value.
type stat uint8

const (
	statDisabled stat = iota
	statStall
	statNAK
	statValid
)

// slot mirrors one EPnR register and its BTABLE entry.
type slot struct {
	num   uint8
	typ   dcd.TransferType
	used  [2]bool // OUT (RX), IN (TX)
	stat  [2]stat
	setup bool

	addrTx  uint16
	countTx uint16
	addrRx  uint16
	countRx uint16 // block fields plus the received count
}

const slotFree = 0xFF

func (s *slot) clear() {
	*s = slot{num: slotFree}
}

// allocSlot finds the register slot for ep: a slot already holding the same
// number and type with the other direction free, or an empty slot. An
// isochronous endpoint needs both directions of its slot.
func allocSlot(slots []slot, ep uint8, typ dcd.TransferType) (int, error) {
	num, dir := dcd.EdptNumber(ep), dcd.EdptDir(ep)

	for i := range slots {
		s := &slots[i]
		if s.used[dir] && s.num == num && s.typ == typ {
			return i, nil
		}
		if s.used[dir] {
			continue
		}
		if typ == dcd.TransferIsochronous && s.used[dir^1] {
			continue
		}
		if s.num != slotFree && s.num != num {
			continue
		}
		if s.num != slotFree && s.typ != typ {
			continue
		}
		s.num = num
		s.typ = typ
		s.used[dir] = true
		return i, nil
	}
	return 0, pkg.ErrNoResources
}

// freeSlot releases the direction of ep and clears the slot once unused.
func freeSlot(slots []slot, ep uint8) {
	num, dir := dcd.EdptNumber(ep), dcd.EdptDir(ep)
	for i := range slots {
		s := &slots[i]
		if s.num != num || !s.used[dir] {
			continue
		}
		s.used[dir] = false
		s.stat[dir] = statDisabled
		if s.typ == dcd.TransferIsochronous || !s.used[dir^1] {
			s.clear()
		}
		return
	}
}
