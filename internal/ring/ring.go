// Package ring provides the fixed-size byte FIFO used by the buffered class
// drivers. It never grows and never overwrites: writes stop when the buffer
// is full.
//
// A Buffer is not safe for concurrent use; drivers guard it with their own
// lock.
package ring

// Buffer is a byte FIFO over a fixed backing array.
type Buffer struct {
	buf  []byte
	head int // next byte to read
	n    int // bytes stored
}

// New returns a buffer holding up to size bytes.
func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{buf: make([]byte, size)}
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.n }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// Free returns the number of bytes that can be written.
func (b *Buffer) Free() int { return len(b.buf) - b.n }

// Reset discards all buffered bytes.
func (b *Buffer) Reset() { b.head, b.n = 0, 0 }

// Write appends as much of p as fits and returns the count.
func (b *Buffer) Write(p []byte) int {
	written := 0
	for len(p) > 0 && b.n < len(b.buf) {
		tail := (b.head + b.n) % len(b.buf)
		end := len(b.buf)
		if tail < b.head {
			end = b.head
		}
		c := copy(b.buf[tail:end], p)
		b.n += c
		written += c
		p = p[c:]
	}
	return written
}

// Peek copies up to len(p) buffered bytes into p without consuming them.
func (b *Buffer) Peek(p []byte) int {
	n := min(len(p), b.n)
	first := copy(p[:n], b.buf[b.head:min(b.head+n, len(b.buf))])
	copy(p[first:n], b.buf)
	return n
}

// Read moves up to len(p) bytes into p.
func (b *Buffer) Read(p []byte) int {
	n := b.Peek(p)
	b.Discard(n)
	return n
}

// Discard drops up to n bytes from the front and returns the count.
func (b *Buffer) Discard(n int) int {
	n = min(n, b.n)
	b.head = (b.head + n) % len(b.buf)
	b.n -= n
	if b.n == 0 {
		b.head = 0
	}
	return n
}

// IndexByte returns the offset of the first c in the buffer, or -1.
func (b *Buffer) IndexByte(c byte) int {
	for i := 0; i < b.n; i++ {
		if b.buf[(b.head+i)%len(b.buf)] == c {
			return i
		}
	}
	return -1
}
