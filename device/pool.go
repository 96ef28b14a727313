package device

import "sync"

// BufferPool recycles float32 scratch buffers of a fixed element count.
// Tensor allocation churns hard during an epoch (one image batch plus
// decode intermediates per iteration), so released buffers are kept
// around for reuse instead of going back to the garbage collector.
type BufferPool struct {
	buffers  chan []float32
	numElems int
}

// NewBufferPool creates a pool holding at most maxBuffers buffers of
// numElems float32 elements each
func NewBufferPool(numElems, maxBuffers int) *BufferPool {
	return &BufferPool{
		buffers:  make(chan []float32, maxBuffers),
		numElems: numElems,
	}
}

// Get retrieves a zeroed buffer from the pool or allocates a new one
func (bp *BufferPool) Get() []float32 {
	select {
	case buf := <-bp.buffers:
		for i := range buf {
			buf[i] = 0
		}
		return buf
	default:
		return make([]float32, bp.numElems)
	}
}

// Return puts a buffer back into the pool; full pool drops the buffer
func (bp *BufferPool) Return(buf []float32) {
	if len(buf) != bp.numElems {
		return
	}
	select {
	case bp.buffers <- buf:
	default:
	}
}

// cache groups pools by buffer size for the whole process
var (
	cacheMu sync.Mutex
	cache   = make(map[int]*BufferPool)
)

const poolDepth = 16

// GetBuffer returns a zeroed float32 buffer of numElems elements,
// drawn from the process-wide cache when one is available
func GetBuffer(numElems int) []float32 {
	if numElems <= 0 {
		return nil
	}
	cacheMu.Lock()
	pool, ok := cache[numElems]
	if !ok {
		pool = NewBufferPool(numElems, poolDepth)
		cache[numElems] = pool
	}
	cacheMu.Unlock()
	return pool.Get()
}

// ReturnBuffer releases a buffer back to the process-wide cache
func ReturnBuffer(buf []float32) {
	if len(buf) == 0 {
		return
	}
	cacheMu.Lock()
	pool, ok := cache[len(buf)]
	cacheMu.Unlock()
	if ok {
		pool.Return(buf)
	}
}

// EmptyCache drops every pooled buffer. The eval path calls this when
// switching modes so the peak of a training epoch does not stay
// resident through evaluation.
func EmptyCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = make(map[int]*BufferPool)
}
