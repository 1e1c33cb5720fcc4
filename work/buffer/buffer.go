package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// DefaultChunkSize is the relay read size. It is a multiple of the 188-byte MPEG-TS packet.
const DefaultChunkSize = 188 * 348

// BufferPool hands out reusable chunk buffers for relays, backed by bytebufferpool.
type BufferPool struct {
	pool      *bytebufferpool.Pool
	chunkSize int
}

// NewBufferPool creates a pool of buffers holding at least chunkSize bytes.
func NewBufferPool(chunkSize int) *BufferPool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BufferPool{
		pool:      &bytebufferpool.Pool{},
		chunkSize: chunkSize,
	}
}

// Get returns a buffer whose B has length chunkSize, ready to be read into.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	if cap(buf.B) < bp.chunkSize {
		buf.B = make([]byte, bp.chunkSize)
	}
	buf.B = buf.B[:bp.chunkSize]
	return buf
}

// Put returns buf to the pool.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}

// ChunkSize reports the length of buffers returned by Get.
func (bp *BufferPool) ChunkSize() int {
	return bp.chunkSize
}
