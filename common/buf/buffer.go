package buf

import (
	F "github.com/sagernet/sing-async/common/format"
)

// Buffer is a fixed-capacity byte arena for reassembling partially consumed
// stream data. Occupied bytes always live at the front of the backing array,
// so a retained tail from one delivery is the prefix of the next one.
type Buffer struct {
	data []byte
	end  int
}

func New(size int) *Buffer {
	return &Buffer{
		data: make([]byte, size),
	}
}

func (b *Buffer) Len() int {
	return b.end
}

func (b *Buffer) Cap() int {
	return len(b.data)
}

func (b *Buffer) FreeLen() int {
	return len(b.data) - b.end
}

func (b *Buffer) IsEmpty() bool {
	return b.end == 0
}

func (b *Buffer) IsFull() bool {
	return b.end == len(b.data)
}

func (b *Buffer) Bytes() []byte {
	return b.data[:b.end]
}

func (b *Buffer) FreeBytes() []byte {
	return b.data[b.end:]
}

// Extend marks n bytes of the free region as occupied, after they have been
// filled in place through FreeBytes.
func (b *Buffer) Extend(n int) []byte {
	end := b.end + n
	if n < 0 || end > len(b.data) {
		panic(F.ToString("buffer overflow: capacity ", len(b.data), ", end ", b.end, ", need ", n))
	}
	ext := b.data[b.end:end]
	b.end = end
	return ext
}

// Consume discards the first n occupied bytes and compacts the unconsumed
// tail to the front of the arena.
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.end {
		panic(F.ToString("buffer underflow: occupied ", b.end, ", consume ", n))
	}
	if n == 0 {
		return
	}
	copy(b.data, b.data[n:b.end])
	b.end -= n
}

func (b *Buffer) Reset() {
	b.end = 0
}
