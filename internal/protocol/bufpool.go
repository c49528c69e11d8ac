package protocol

import (
	"sync"
)

// Size classes of the encode buffer pool. Most responses are a status and a
// handful of entries; large ones carry raw payloads or SYSTEM snapshots.
const (
	smallBufferSize  = 4 << 10  // 4KB
	mediumBufferSize = 64 << 10 // 64KB
	largeBufferSize  = 1 << 20  // 1MB
)

// bufferPool hands out byte slices by size class. Slices above the largest
// class are allocated directly and never pooled.
type bufferPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

func newSizedPool(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
}

var globalBufferPool = &bufferPool{
	small:  newSizedPool(smallBufferSize),
	medium: newSizedPool(mediumBufferSize),
	large:  newSizedPool(largeBufferSize),
}

// Get returns a slice of length size. Its capacity may be larger.
func (p *bufferPool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= smallBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns buf to the class matching its capacity. Other slices are left
// to the garbage collector.
func (p *bufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case smallBufferSize:
		p.small.Put(&full)
	case mediumBufferSize:
		p.medium.Put(&full)
	case largeBufferSize:
		p.large.Put(&full)
	}
}

// GetBuffer acquires a buffer from the global pool.
//
// Usage:
//
//	buf := GetBuffer(size)
//	defer PutBuffer(buf)
func GetBuffer(size int) []byte {
	return globalBufferPool.Get(size)
}

// PutBuffer returns a buffer obtained from GetBuffer. The caller must not use
// it afterwards.
func PutBuffer(buf []byte) {
	globalBufferPool.Put(buf)
}
